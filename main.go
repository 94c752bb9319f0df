package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scenarist/scenarist/pkg/api"
	"github.com/scenarist/scenarist/pkg/artifacts"
	"github.com/scenarist/scenarist/pkg/config"
	"github.com/scenarist/scenarist/pkg/queue"
	queuememory "github.com/scenarist/scenarist/pkg/queue/memory"
	"github.com/scenarist/scenarist/pkg/queue/rabbitmq"
	"github.com/scenarist/scenarist/pkg/storage"
	storagememory "github.com/scenarist/scenarist/pkg/storage/memory"
	"github.com/scenarist/scenarist/pkg/storage/postgres"
)

func main() {
	// --- Load .env file (for local development only) ---
	// Only attempt to load a .env file if APP_ENV is not 'production'.
	// This keeps container logs clean.
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			bootLogger.Info("Could not load .env file, relying on environment variables", slog.String("error", err.Error()))
		} else {
			bootLogger.Info("Loaded configuration from .env file for local development")
		}
	}

	// --- Configuration Loading ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	logLevel := slog.LevelInfo // Default
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger) // Set as default logger for convenience

	logger.Info("Starting Scenarist API server...",
		slog.String("log_level", cfg.LogLevel),
		slog.String("queue_driver", cfg.QueueDriver),
		slog.String("store_driver", cfg.StoreDriver))

	// --- Context for graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop() // Call stop on exit to release resources

	// --- Dependency Injection ---
	var queueManager queue.Manager
	switch cfg.QueueDriver {
	case "memory":
		queueManager = queuememory.NewManager(logger)
	case "rabbitmq":
		queueManager, err = rabbitmq.NewManager(cfg.RabbitMQ_URL, cfg.WorkerConcurrency, logger)
		if err != nil {
			logger.Error("Failed to initialize RabbitMQ queue manager", slog.String("error", err.Error()))
			os.Exit(1)
		}
	default:
		logger.Error("Unknown queue driver", slog.String("queue_driver", cfg.QueueDriver))
		os.Exit(1)
	}
	defer queueManager.Close() // Ensure connection is closed on shutdown

	var resultStore storage.ResultStore
	switch cfg.StoreDriver {
	case "memory":
		resultStore = storagememory.NewStore()
	case "postgres":
		resultStore, err = postgres.NewStore(cfg.Postgres_DSN, logger)
		if err != nil {
			logger.Error("Failed to initialize postgres result store", slog.String("error", err.Error()))
			os.Exit(1)
		}
	default:
		logger.Error("Unknown store driver", slog.String("store_driver", cfg.StoreDriver))
		os.Exit(1)
	}
	defer resultStore.Close() // Ensure connections are closed

	// The screenshot bucket is provisioned here, once, so runners can
	// assume it exists. Memory mode skips MinIO entirely.
	if cfg.StoreDriver != "memory" {
		artifactStore, err := artifacts.NewMinIO(cfg.MinIO_Endpoint, cfg.MinIO_AccessKey, cfg.MinIO_SecretKey, cfg.MinIO_BucketName, cfg.MinIO_UseSSL, logger)
		if err != nil {
			logger.Error("Failed to initialize MinIO artifact store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := artifactStore.EnsureBucket(ctx); err != nil {
			logger.Error("Failed to ensure artifact bucket exists", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Create the API handler instance, injecting dependencies AND config
	apiHandler := api.NewAPI(queueManager, resultStore, logger, cfg)

	// --- Router Setup ---
	router := api.SetupRouter(apiHandler, cfg)
	logger.Info("API router configured")

	// --- HTTP Server Setup ---
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout + (5 * time.Second), // Slightly longer than handler timeout
		WriteTimeout: cfg.RequestTimeout + (5 * time.Second),
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx }, // Use app context
	}

	// --- Start Server Goroutine ---
	go func() {
		logger.Info("Server listening...", slog.String("address", server.Addr))
		if err := server.ListenAndServe(); errors.Is(err, syscall.EADDRINUSE) {
			logger.Error("Port is already in use. Is another instance of the server already running?", slog.String("address", server.Addr))
			stop()
		} else if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed to start or unexpectedly closed", slog.String("error", err.Error()))
			stop() // Trigger shutdown context
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	// --- Graceful Shutdown ---
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second) // Timeout for shutdown
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server graceful shutdown failed", slog.String("error", err.Error()))
	} else {
		logger.Info("Server gracefully stopped")
	}

	// Dependencies are closed via defer statements earlier

	logger.Info("Shutdown complete.")
}
