package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lbds137/tzurot/internal/config"
	"github.com/lbds137/tzurot/internal/provider"
	"github.com/lbds137/tzurot/internal/queue"
	"github.com/lbds137/tzurot/internal/repository/postgres"
	postgresChat "github.com/lbds137/tzurot/internal/repository/postgres/chat"
	"github.com/lbds137/tzurot/internal/service/resolver"
	"github.com/lbds137/tzurot/internal/service/worker"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, "worker", 10)
		if err != nil {
			log.Fatalf("Failed to setup log file: %v", err)
		}
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}
	consumer := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	logger.Info("worker starting",
		"environment", cfg.Environment,
		"consumer", consumer,
		"table_prefix", cfg.TablePrefix,
	)

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		log.Fatalf("Failed to load tuning file: %v", err)
	}

	// Create pgx connection pool
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	rdb, err := queue.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()
	logger.Info("redis connected", "addr", cfg.RedisAddr)

	// Create repositories
	tables := postgres.NewTableNames(cfg.TablePrefix)
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	turnStore := postgresChat.NewTurnStore(repoConfig)
	memoryStore := postgresChat.NewMemoryStore(repoConfig)
	configStore := postgresChat.NewPersonaConfigStore(repoConfig)

	// Setup model providers
	providers, err := provider.Setup(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup providers: %v", err)
	}

	configResolver := resolver.NewService(configStore, logger)

	// Queue + result bus (consume side)
	resultBus := queue.NewResultBus(rdb, logger)
	queueCfg := queue.DefaultConfig(consumer)
	queueCfg.VisibilityTimeout = tuning.Queue.VisibilityTimeout
	queueCfg.MaxAttempts = tuning.Queue.MaxAttempts
	queueCfg.Concurrency = tuning.Queue.Concurrency
	jobQueue := queue.New(rdb, queueCfg, resultBus, logger)

	workerService := worker.NewService(
		configResolver,
		providers,
		memoryStore,
		turnStore,
		jobQueue.CancelRequested,
		logger,
	)

	logger.Info("worker consuming",
		"stream", queueCfg.Stream,
		"group", queueCfg.Group,
		"concurrency", queueCfg.Concurrency,
	)

	if err := jobQueue.Consume(ctx, workerService.Handle); err != nil && ctx.Err() == nil {
		log.Fatalf("Consumer stopped: %v", err)
	}
	logger.Info("worker stopped")
}
