// Package config loads relay configuration from environment variables.
//
// The three kill switches (RELAY_API_ENABLED, RELAY_SUBSCRIPTIONS_ENABLED,
// RELAY_WORKER_ENABLED) default to off, so an unconfigured deployment
// performs no externally visible side effects.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ringline/relay/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Worker        WorkerConfig
	Observability ObservabilityConfig

	// Kill switches, all default off
	APIEnabled           bool
	SubscriptionsEnabled bool
	WorkerEnabled        bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig holds database and cache configuration
type StorageConfig struct {
	// PostgresURL empty means run on the in-memory stores
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// RedisURL empty disables the Redis rate limiter
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// WorkerConfig holds delivery worker configuration
type WorkerConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	MaxAttempts    int
	Backoff        []time.Duration
	ReplayWindow   time.Duration
	Concurrency    int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Worker:        loadWorkerConfig(),
		Observability: loadObservabilityConfig(),

		APIEnabled:           getEnvBool("RELAY_API_ENABLED", false),
		SubscriptionsEnabled: getEnvBool("RELAY_SUBSCRIPTIONS_ENABLED", false),
		WorkerEnabled:        getEnvBool("RELAY_WORKER_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("RELAY_HOST", "0.0.0.0"),
		Port:            getEnv("RELAY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("RELAY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("RELAY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("RELAY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("RELAY_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("RELAY_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      getEnv("RELAY_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("RELAY_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns: getEnvInt("RELAY_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:  getEnvDuration("RELAY_POSTGRES_TIMEOUT", 10*time.Second),
		RedisURL:         getEnv("RELAY_REDIS_URL", ""),
		RedisPassword:    getEnv("RELAY_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("RELAY_REDIS_DB", 0),
	}
}

func loadWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:   getEnvDuration("RELAY_WORKER_POLL_INTERVAL", 5*time.Second),
		BatchSize:      getEnvInt("RELAY_WORKER_BATCH_SIZE", 50),
		RequestTimeout: getEnvDuration("RELAY_WORKER_REQUEST_TIMEOUT", 10*time.Second),
		MaxAttempts:    getEnvInt("RELAY_WORKER_MAX_ATTEMPTS", 3),
		Backoff:        getEnvDurationList("RELAY_WORKER_BACKOFF", []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}),
		ReplayWindow:   getEnvDuration("RELAY_REPLAY_WINDOW", 300*time.Second),
		Concurrency:    getEnvInt("RELAY_WORKER_CONCURRENCY", 4),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("RELAY_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("RELAY_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker max attempts must be positive")
	}
	if len(c.Worker.Backoff) == 0 {
		return fmt.Errorf("worker backoff schedule must not be empty")
	}
	if c.Worker.ReplayWindow <= 0 {
		return fmt.Errorf("replay window must be positive")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker batch size must be positive")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvDurationList parses a comma-separated list of durations,
// e.g. "60s,5m,15m". Falls back to the default on any parse error.
func getEnvDurationList(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		duration, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return defaultValue
		}
		result = append(result, duration)
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
