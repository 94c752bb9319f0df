// The runner consumes scenario jobs from the execution queue, drives a
// headless browser through each scenario and persists the results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scenarist/scenarist/pkg/artifacts"
	"github.com/scenarist/scenarist/pkg/browser"
	"github.com/scenarist/scenarist/pkg/config"
	"github.com/scenarist/scenarist/pkg/executor"
	"github.com/scenarist/scenarist/pkg/queue"
	queuememory "github.com/scenarist/scenarist/pkg/queue/memory"
	"github.com/scenarist/scenarist/pkg/queue/rabbitmq"
	"github.com/scenarist/scenarist/pkg/storage"
	storagememory "github.com/scenarist/scenarist/pkg/storage/memory"
	"github.com/scenarist/scenarist/pkg/storage/postgres"
	"github.com/scenarist/scenarist/pkg/worker"
)

func main() {
	// --- Load .env file (for local development only) ---
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
	slog.SetDefault(logger)

	logger.Info("Starting Scenarist runner...",
		slog.String("log_level", cfg.LogLevel),
		slog.String("queue", cfg.ExecutionQueue),
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.Bool("headless", cfg.BrowserHeadless))

	// --- Context for graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	defer resultStore.Close()

	var artifactStore artifacts.Store
	if cfg.StoreDriver == "memory" {
		artifactStore = artifacts.NewMemory(cfg.MinIO_BucketName)
	} else {
		minioStore, err := artifacts.NewMinIO(cfg.MinIO_Endpoint, cfg.MinIO_AccessKey, cfg.MinIO_SecretKey, cfg.MinIO_BucketName, cfg.MinIO_UseSSL, logger)
		if err != nil {
			logger.Error("Failed to initialize MinIO artifact store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			logger.Error("Failed to ensure artifact bucket exists", slog.String("error", err.Error()))
			os.Exit(1)
		}
		artifactStore = minioStore
	}

	// One browser process for the whole runner, started lazily on the
	// first job.
	chrome := browser.NewChrome(logger, cfg.BrowserHeadless)

	exec := executor.New(chrome, artifactStore, cfg.StepTimeout, cfg.NavigationTimeout, logger)
	w := worker.New(exec, queueManager, resultStore, chrome, cfg.ExecutionQueue, cfg.StatsInterval, logger)

	if err := w.Start(ctx); err != nil {
		logger.Error("Failed to start worker", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping runner...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the worker (and release the browser) first, then close the
	// queue so deliveries already handed to the processor drain before
	// the connection drops. The order matters.
	if err := w.Stop(shutdownCtx); err != nil {
		logger.Error("Worker stop failed", slog.String("error", err.Error()))
	}
	if err := queueManager.Close(); err != nil {
		logger.Error("Queue manager close failed", slog.String("error", err.Error()))
	}

	logger.Info("Shutdown complete.")
}
