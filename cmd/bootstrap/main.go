// Package main 系统初始化入口：建表与建集合
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"rag-answer-api/internal/config"
	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/infrastructure/persistence/milvus"
	"rag-answer-api/internal/infrastructure/persistence/postgres"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// 1. PostgreSQL 建表
	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pgClient.Close()

	fmt.Println("Migrating postgres tables...")
	if err := pgClient.DB().AutoMigrate(
		&entity.UsageRecord{},
		&entity.GraphEntity{},
		&entity.GraphRelation{},
	); err != nil {
		log.Fatalf("failed to migrate postgres: %v", err)
	}
	fmt.Println("Postgres tables ready.")

	// 2. Milvus 建集合与索引
	milvusClient, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		log.Fatalf("failed to connect milvus: %v", err)
	}
	defer milvusClient.Close()

	fmt.Println("Ensuring milvus collection...")
	repo := milvus.NewRepository(milvusClient, cfg.Embedding.Dimension)
	if err := repo.EnsureCollection(ctx); err != nil {
		log.Fatalf("failed to ensure milvus collection: %v", err)
	}
	fmt.Println("Milvus collection ready.")

	fmt.Println("Bootstrap completed successfully.")
}
