// Package main 热点问题预热 Worker 入口
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcache "rag-answer-api/internal/application/cache"
	"rag-answer-api/internal/config"
	"rag-answer-api/internal/infrastructure/embedding"
	"rag-answer-api/internal/infrastructure/persistence/redis"
	"rag-answer-api/pkg/logger"
	"rag-answer-api/pkg/tracer"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(
		cfg.Observability.Logging.Level,
		cfg.Observability.Logging.Format,
	)

	ctx := context.Background()
	log := logger.FromContext(ctx)

	if !cfg.Precompute.Enabled {
		log.Info("precompute disabled, exiting")
		return
	}

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name + "-precompute",
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		log.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to connect redis", err)
	}
	defer redisClient.Close()

	// Worker 主要回填 Tier 2，Tier 1 留给各服务进程自行填充
	tiered := appcache.NewTieredCache(
		appcache.NewMemoryCache(cfg.Cache.Memory.Capacity),
		redis.NewStore(redisClient),
		cfg.Cache.Memory.TTL,
	)

	embedder, err := embedding.NewEinoEmbedder(ctx, cfg.Embedding, tiered, cfg.Cache.TTL.Embedding)
	if err != nil {
		logger.Fatal(ctx, "failed to init embedder", err)
	}

	precomputer := appcache.NewPrecomputer(
		redis.NewFrequencyCounter(redisClient),
		tiered,
		embedder.Raw(),
		cfg.Embedding.Model,
		cfg.Cache.TTL.Embedding,
		int64(cfg.Precompute.TopN),
		cfg.Precompute.MinHits,
	)

	interval := cfg.Precompute.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	log.Info("precompute worker starting", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// 启动即跑一轮，不等首个周期
	if err := precomputer.RunOnce(ctx); err != nil {
		log.Error("precompute run failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := precomputer.RunOnce(ctx); err != nil {
				log.Error("precompute run failed", "error", err)
			}
		case <-quit:
			log.Info("precompute worker exiting")
			return
		}
	}
}
