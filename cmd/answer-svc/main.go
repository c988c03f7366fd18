// Package main 问答服务入口
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rag-answer-api/internal/application/answer"
	appcache "rag-answer-api/internal/application/cache"
	"rag-answer-api/internal/application/ledger"
	"rag-answer-api/internal/application/modelrouter"
	"rag-answer-api/internal/application/retrieval"
	"rag-answer-api/internal/config"
	"rag-answer-api/internal/domain/entity"
	"rag-answer-api/internal/infrastructure/embedding"
	"rag-answer-api/internal/infrastructure/extractor"
	"rag-answer-api/internal/infrastructure/llm"
	"rag-answer-api/internal/infrastructure/persistence/milvus"
	"rag-answer-api/internal/infrastructure/persistence/postgres"
	"rag-answer-api/internal/infrastructure/persistence/redis"
	"rag-answer-api/internal/interfaces/http/handler"
	"rag-answer-api/internal/interfaces/http/router"
	"rag-answer-api/pkg/logger"
	"rag-answer-api/pkg/tracer"

	"github.com/joho/godotenv"
)

// Version 版本信息，构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件（如果存在）
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
	log.Info("starting answer-svc",
		"version", Version,
		"build_time", BuildTime,
		"env", cfg.App.Env,
	)

	// 初始化追踪
	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
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

	// 数据层
	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to connect postgres", err)
	}
	defer pgClient.Close()

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to connect redis", err)
	}
	defer redisClient.Close()

	// Milvus 不可用时向量路退化，不阻塞启动
	milvusClient, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		logger.Warn(ctx, "milvus unavailable, vector branch degraded", "error", err.Error())
		milvusClient = nil
	} else {
		defer milvusClient.Close()
	}

	usageRepo := postgres.NewUsageRecordRepository(pgClient)
	graphRepo := postgres.NewGraphRepository(pgClient)
	vectorRepo := milvus.NewRepository(milvusClient, cfg.Embedding.Dimension)

	// 两级缓存
	tiered := appcache.NewTieredCache(
		appcache.NewMemoryCache(cfg.Cache.Memory.Capacity),
		redis.NewStore(redisClient),
		cfg.Cache.Memory.TTL,
	)

	// 检索链路
	embedder, err := embedding.NewEinoEmbedder(ctx, cfg.Embedding, tiered, cfg.Cache.TTL.Embedding)
	if err != nil {
		logger.Fatal(ctx, "failed to init embedder", err)
	}
	orchestrator := retrieval.NewOrchestrator(
		embedder,
		vectorRepo,
		graphRepo,
		extractor.NewClient(&cfg.Extractor),
		retrieval.Options{
			TopK:         cfg.Answer.TopK,
			MaxSnippets:  cfg.Answer.MaxContextSnippets,
			MaxRelations: cfg.Answer.MaxRelations,
		},
	)

	// 记账与路由。记账按模型单价索引，路由按部署名索引。
	deployments := buildDeployments(cfg.LLM.Deployments)
	byModel := make(map[string]entity.ModelDeployment, len(deployments))
	for _, d := range deployments {
		byModel[d.Model] = d
	}
	usageLedger := ledger.New(usageRepo, byModel, cfg.Budget)
	modelRouter := modelrouter.New(deployments, cfg.LLM.Router.ConfidenceThreshold)

	// 生成客户端
	generator := llm.NewClient(
		llm.NewEinoFactory(cfg),
		usageLedger,
		cfg.LLM.Retry,
		cfg.LLM.QueueOnLimit,
	)

	// 热点问题预热器与问答引擎
	precomputer := appcache.NewPrecomputer(
		redis.NewFrequencyCounter(redisClient),
		tiered,
		embedder.Raw(),
		cfg.Embedding.Model,
		cfg.Cache.TTL.Embedding,
		int64(cfg.Precompute.TopN),
		cfg.Precompute.MinHits,
	)
	engine := answer.NewEngine(
		orchestrator,
		modelRouter,
		usageLedger,
		generator,
		tiered,
		precomputer,
		cfg.Answer,
		cfg.Cache.TTL.Answer,
		cfg.LLM.Router.ResponseReserveTokens,
	)

	// HTTP 层
	r := router.New(cfg, router.Handlers{
		Health:    handler.NewHealthHandler(pgClient, redisClient, milvusClient),
		Answer:    handler.NewAnswerHandler(engine),
		Usage:     handler.NewUsageHandler(usageLedger),
		Retrieval: handler.NewRetrievalHandler(orchestrator),
		Cache:     handler.NewCacheHandler(tiered),
	}, redis.NewRateLimiter(redisClient))

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("http server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}

// buildDeployments 将配置表转换为领域部署对象，键为部署名称
func buildDeployments(configs map[string]config.DeploymentConfig) map[string]entity.ModelDeployment {
	deployments := make(map[string]entity.ModelDeployment, len(configs))
	for name, c := range configs {
		deployments[name] = entity.ModelDeployment{
			Name:              name,
			Model:             c.Model,
			ContextWindow:     c.ContextWindow,
			MaxOutputTokens:   c.MaxOutputTokens,
			InputPricePer1K:   c.InputPricePer1K,
			OutputPricePer1K:  c.OutputPricePer1K,
			RequestsPerMinute: c.RequestsPerMinute,
			TokensPerMinute:   c.TokensPerMinute,
			Capability:        c.Capability,
			Timeout:           c.Timeout,
		}
	}
	return deployments
}
