package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration values.
type Config struct {
	Port              string
	RabbitMQ_URL      string
	Postgres_DSN      string
	MinIO_Endpoint    string
	MinIO_AccessKey   string
	MinIO_SecretKey   string
	MinIO_UseSSL      bool
	MinIO_BucketName  string
	QueueDriver       string // "rabbitmq" or "memory"
	StoreDriver       string // "postgres" or "memory"
	ExecutionQueue    string // queue name scenario jobs travel on
	WorkerConcurrency int    // jobs a worker handles at once; keep at 1 unless you know better
	StepTimeout       time.Duration
	NavigationTimeout time.Duration
	StatsInterval     time.Duration
	BrowserHeadless   bool
	LogLevel          string // e.g., "debug", "info", "warn", "error"
	RequestTimeout    time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Helper to get env var with default
	getenv := func(key, fallback string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return fallback
	}

	// Helper to get bool env var
	getenvBool := func(key string, fallback bool) bool {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.ParseBool(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	// Helper to get int env var
	getenvInt := func(key string, fallback int) int {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := strconv.Atoi(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	// Helper to get duration env var
	getenvDuration := func(key string, fallback time.Duration) time.Duration {
		if valueStr, exists := os.LookupEnv(key); exists {
			value, err := time.ParseDuration(valueStr)
			if err == nil {
				return value
			}
		}
		return fallback
	}

	cfg := &Config{
		Port:              getenv("PORT", "8080"),
		RabbitMQ_URL:      getenv("RABBITMQ_URL", "amqp://localhost:5672/"), // Fallback without credentials
		Postgres_DSN:      getenv("POSTGRES_DSN", "postgres://localhost:5432/scenario_runs_db?sslmode=disable"),
		MinIO_Endpoint:    getenv("MINIO_ENDPOINT", "localhost:9000"),
		MinIO_AccessKey:   getenv("MINIO_ACCESS_KEY", ""), // Fallback to empty, must be set in .env
		MinIO_SecretKey:   getenv("MINIO_SECRET_KEY", ""), // Fallback to empty, must be set in .env
		MinIO_UseSSL:      getenvBool("MINIO_USE_SSL", false),
		MinIO_BucketName:  getenv("MINIO_BUCKET_NAME", "scenario-artifacts"),
		QueueDriver:       getenv("QUEUE_DRIVER", "rabbitmq"),
		StoreDriver:       getenv("STORE_DRIVER", "postgres"),
		ExecutionQueue:    getenv("EXECUTION_QUEUE", "scenario-execution"),
		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 1),
		StepTimeout:       getenvDuration("STEP_TIMEOUT", 30*time.Second),
		NavigationTimeout: getenvDuration("NAVIGATION_TIMEOUT", 30*time.Second),
		StatsInterval:     getenvDuration("STATS_INTERVAL", 5*time.Minute),
		BrowserHeadless:   getenvBool("BROWSER_HEADLESS", true),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		RequestTimeout:    getenvDuration("REQUEST_TIMEOUT", 15*time.Second),
	}

	// All jobs on a worker share one browser process, so concurrency
	// below 1 makes no sense.
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}
