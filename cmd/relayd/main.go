package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/ringline/relay/pkg/api"
	"github.com/ringline/relay/pkg/apikeys"
	"github.com/ringline/relay/pkg/async"
	"github.com/ringline/relay/pkg/audit"
	"github.com/ringline/relay/pkg/config"
	"github.com/ringline/relay/pkg/observability"
	"github.com/ringline/relay/pkg/ratelimit"
	"github.com/ringline/relay/pkg/storage/postgres"
	"github.com/ringline/relay/pkg/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"api_enabled":           cfg.APIEnabled,
		"subscriptions_enabled": cfg.SubscriptionsEnabled,
		"worker_enabled":        cfg.WorkerEnabled,
	}).Info("Starting relayd")

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Storage: PostgreSQL when configured, in-memory otherwise
	var (
		db           *sql.DB
		keyStore     apikeys.Store
		webhookStore webhooks.Store
		limiter      ratelimit.Limiter
		pgLimiter    *postgres.RateLimiter
	)

	if cfg.Storage.PostgresURL != "" {
		db, err = postgres.Connect(cfg.Storage)
		if err != nil {
			return err
		}
		defer db.Close()

		bootCtx, cancel := context.WithTimeout(rootCtx, cfg.Storage.PostgresTimeout)
		err = postgres.Bootstrap(bootCtx, db)
		cancel()
		if err != nil {
			return err
		}

		keyStore = postgres.NewKeyStore(db)
		webhookStore = postgres.NewWebhookStore(db)
		pgLimiter = postgres.NewRateLimiter(db)
		limiter = pgLimiter

		if metrics != nil {
			postgres.StartPoolMetrics(rootCtx, db, metrics, 15*time.Second)
		}
		logger.Info("PostgreSQL storage initialized")
	} else {
		keyStore = apikeys.NewMemoryStore()
		webhookStore = webhooks.NewMemoryStore()
		limiter = ratelimit.NewMemoryLimiter()
		logger.Warn("No RELAY_POSTGRES_URL configured, running on in-memory stores")
	}

	// Redis takes over rate limiting when configured; it survives
	// process restarts within the hour window
	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}

		limiter = ratelimit.NewRedisLimiter(redisClient, "relay:ratelimit")
		logger.Info("Redis rate limiter initialized")
	}

	var auditLog audit.Logger = audit.NopLogger{}
	if db != nil {
		auditLog, err = audit.NewDBLogger(db)
		if err != nil {
			return err
		}
	}

	registry := apikeys.NewRegistry(keyStore, logger)
	subscriptions := webhooks.NewSubscriptionRegistry(webhookStore)
	publisher := webhooks.NewPublisher(webhookStore, metrics, logger)
	webhookHandlers := webhooks.NewHandlers(subscriptions, publisher, webhookStore)

	server := api.NewServer(api.Deps{
		Config:    cfg,
		Registry:  registry,
		Webhooks:  webhookHandlers,
		ReadModel: api.NewMemoryReadModel(),
		Limiter:   limiter,
		Audit:     auditLog,
		Metrics:   metrics,
		Logger:    logger,
	})

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	// Delivery worker
	if cfg.WorkerEnabled {
		worker := webhooks.NewWorker(webhookStore, cfg.Worker, metrics, logger)
		async.SafeGoNoError(rootCtx, 0, "delivery-worker", worker.Run)
	} else {
		logger.Info("Delivery worker disabled")
	}

	// Hourly cleanup of expired rate-limit windows
	scheduler := cron.New()
	if pgLimiter != nil {
		_, err := scheduler.AddFunc("@hourly", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			cutoff := ratelimit.WindowStart(time.Now()).Add(-time.Hour)
			purged, err := pgLimiter.PurgeBefore(ctx, cutoff)
			if err != nil {
				logger.WithError(err).Error("Rate limit window purge failed")
				return
			}
			if purged > 0 {
				logger.WithField("purged", purged).Info("Purged expired rate limit windows")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule window purge: %w", err)
		}
	}
	scheduler.Start()
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		return nil
	})

	// Main API server
	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown.RegisterServer(apiServer)

	// Health and metrics server on its own port
	healthMux := http.NewServeMux()
	healthMux.Handle("/healthz", observability.NewHealthChecker(db, redisClient).Handler())
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	shutdown.RegisterServer(healthServer)

	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		cancelRoot()
		return nil
	})

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
		}
	}()

	return shutdown.WaitForShutdown()
}
