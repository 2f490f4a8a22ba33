package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/lbds137/tzurot/internal/budget"
	"github.com/lbds137/tzurot/internal/config"
	"github.com/lbds137/tzurot/internal/delivery"
	"github.com/lbds137/tzurot/internal/handler"
	"github.com/lbds137/tzurot/internal/media"
	"github.com/lbds137/tzurot/internal/middleware"
	"github.com/lbds137/tzurot/internal/queue"
	"github.com/lbds137/tzurot/internal/repository/postgres"
	postgresChat "github.com/lbds137/tzurot/internal/repository/postgres/chat"
	"github.com/lbds137/tzurot/internal/service/enrich"
	"github.com/lbds137/tzurot/internal/service/ingress"
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
		logFile, err := config.SetupLogFile(cfg.LogDir, "ingress", 10)
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

	logger.Info("ingress starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		log.Fatalf("Failed to load tuning file: %v", err)
	}

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected",
		"max_conns", 25,
		"min_conns", 5,
	)

	// Redis backs the job queue and the result bus
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

	// Queue + result bus (enqueue side)
	resultBus := queue.NewResultBus(rdb, logger)
	queueCfg := queue.DefaultConfig("ingress")
	queueCfg.VisibilityTimeout = tuning.Queue.VisibilityTimeout
	queueCfg.MaxAttempts = tuning.Queue.MaxAttempts
	jobQueue := queue.New(rdb, queueCfg, resultBus, logger)

	// Media enrichment runs here, once per event
	describer := media.NewHTTPDescriber(cfg.VisionAPIURL, cfg.TranscribeAPIURL)
	enricher := enrich.NewService(describer, enrich.DefaultFanOut, logger)

	// Delivery
	identities, err := delivery.LoadIdentities(cfg.IdentitiesFile)
	if err != nil {
		log.Fatalf("Failed to load identities: %v", err)
	}
	channel := delivery.NewWebhookChannel(cfg.WebhookBaseURL, logger)

	allocator := budget.NewAllocator(tuning.BudgetLimits())

	ingressService := ingress.NewService(
		turnStore,
		jobQueue,
		ingress.NewBusListener(resultBus),
		enricher,
		allocator,
		memoryStore,
		channel,
		identities,
		logger,
	)

	eventHandler := handler.NewEventHandler(ingressService, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("POST /v1/messages", eventHandler.HandleMessage)

	// Build middleware chain
	var h http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	h = middleware.Auth(cfg.AuthSecret)(h)
	h = middleware.Recovery(logger)(h)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	h = corsHandler.Handler(h)

	// A request legitimately blocks for up to the budget ceiling while the
	// worker generates, so the write timeout sits above it.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: tuning.BudgetLimits().Ceiling + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("ingress listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
