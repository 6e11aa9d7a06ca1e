package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopassist/internal/adapter/api"
	"shopassist/internal/adapter/client"
	"shopassist/internal/adapter/store"
	"shopassist/internal/config"
	"shopassist/internal/domain/entity"
	"shopassist/internal/domain/repository"
	"shopassist/internal/logger"
	"shopassist/internal/metrics"
	"shopassist/internal/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	zl, err := logger.New(logger.Options{
		Service:     "shopassist",
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		Development: !cfg.IsProduction(),
	}, zap.String("version", os.Getenv("APP_VERSION")))
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Relational store: ledger, sessions, catalog
	db, err := store.OpenPostgres(cfg.Database)
	if err != nil {
		zl.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if err := store.Migrate(ctx, db); err != nil {
		zl.Fatal("failed to migrate schema", zap.Error(err))
	}

	// Redis for the realtime mirror and turn throttling
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	// Qdrant for store knowledge retrieval
	qClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantAPIKey != "",
	})
	if err != nil {
		zl.Fatal("failed to connect to qdrant", zap.Error(err))
	}
	defer qClient.Close()

	genaiClient, err := client.NewGenAIClient(ctx, cfg.GoogleProject, cfg.GoogleLocation, cfg.GoogleAPIKey)
	if err != nil {
		zl.Fatal("failed to init genai client", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	primaryModel := client.NewGeminiClientFromClient(genaiClient, cfg.PrimaryModel)
	fallbackModel := client.NewGeminiClientFromClient(genaiClient, cfg.FallbackModel)
	resilientProvider := usecase.NewResilientProvider(primaryModel, fallbackModel, usecase.ResilienceConfig{
		MaxRetries: cfg.ModelRetries,
		Timeout:    cfg.ModelTimeout,
	}, zl.Named("model"))

	embedder := client.NewEmbedderFromClient(genaiClient, cfg.EmbeddingModel)
	var judge repository.IntentJudge
	if cfg.HandoffDetection {
		judge = client.NewGeminiEvaluator(genaiClient, cfg.JudgeModel)
	}
	var hinter repository.RetrievalHinter
	if cfg.RetrievalHints {
		hinter = client.NewGeminiExtractor(genaiClient, cfg.JudgeModel)
	}

	vectorStore := store.NewQdrantStore(qClient, cfg.QdrantCollection, zl.Named("qdrant"))
	if err := vectorStore.InitCollection(ctx, cfg.EmbeddingDim); err != nil {
		zl.Fatal("failed to init qdrant collection", zap.Error(err))
	}

	creditStore := store.NewCreditStore(db)
	sessionStore := store.NewSessionStore(db)
	catalogStore := store.NewCatalogStore(db)
	mirror := store.NewRedisMirror(rdb, cfg.MirrorTTL)
	turnLimiter := store.NewRedisLimiter(rdb, cfg.TurnsPerMinute, time.Minute)

	ledger := usecase.NewCreditLedger(creditStore, zl.Named("ledger"), m)
	loadPlans := func() ([]entity.Plan, error) { return config.LoadPlans(cfg.PlansFile) }
	plans, err := loadPlans()
	if err != nil {
		zl.Fatal("failed to load plan catalog", zap.Error(err))
	}
	if err := ledger.InitializePlans(ctx, plans); err != nil {
		zl.Fatal("failed to seed plans", zap.Error(err))
	}

	sessions := usecase.NewSessionService(sessionStore, mirror, zl.Named("sessions"))
	knowledge := usecase.NewKnowledgeService(vectorStore, embedder, catalogStore, hinter, cfg.ContextLimit, zl.Named("knowledge"))
	keywords := usecase.NewKeywordResponder(catalogStore)

	// Inject the adapters into the Orchestration Layer
	orchestrator := usecase.NewOrchestrator(
		ledger, sessions, knowledge, keywords, catalogStore, mirror, resilientProvider, judge,
		usecase.OrchestratorConfig{
			CreditsPerChat:   cfg.CreditsPerChat,
			HistoryLimit:     cfg.HistoryLimit,
			HandoffDetection: cfg.HandoffDetection,
		},
		m, zl.Named("orchestrator"),
	)

	dispatcher := usecase.NewDispatcher(orchestrator, cfg.WorkerCount, cfg.QueueSize, cfg.TurnTimeout, m, zl.Named("dispatcher"))
	dispatcher.Start(ctx)

	go func() {
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := embedder.CreateEmbedding(warmCtx, "warmup"); err != nil {
			zl.Warn("embedder warm-up failed", zap.Error(err))
		}
		if _, err := resilientProvider.Generate(warmCtx, entity.ModelRequest{Message: "."}); err != nil {
			zl.Warn("model warm-up failed", zap.Error(err))
		}
		zl.Info("model pre-warm complete")
	}()

	// Initialize API Layer (Delivery Layer)
	app := fiber.New(fiber.Config{
		AppName:               "ShopAssist",
		DisableStartupMessage: cfg.IsProduction(),
	})

	chatHandler := api.NewChatHandler(dispatcher, orchestrator, turnLimiter, cfg.TurnTimeout, zl.Named("http"))
	merchantHandler := api.NewMerchantHandler(ledger, knowledge, catalogStore, mirror, loadPlans, zl.Named("http"))
	api.SetupRouter(app, chatHandler, merchantHandler, registry, cfg.Environment)

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("server listening", zap.String("port", cfg.Port), zap.String("env", cfg.Environment))
		serverErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			zl.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.TurnTimeout+5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zl.Error("http shutdown failed", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		zl.Error("turn queue not drained", zap.Error(err))
	}
	zl.Info("server stopped cleanly")
}
