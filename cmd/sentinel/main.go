// Package main is the entry point for the CloudSentinel detection service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudsentinel/internal/alerting"
	"cloudsentinel/internal/config"
	"cloudsentinel/internal/ingest"
	"cloudsentinel/internal/intel"
	"cloudsentinel/internal/kafka"
	"cloudsentinel/internal/model"
	"cloudsentinel/internal/pipeline"
	"cloudsentinel/internal/queue"
	"cloudsentinel/internal/response"
	"cloudsentinel/internal/schema"
	"cloudsentinel/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"queue_size", cfg.Queue.Size,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
		"intel_enabled", cfg.Intel.Enabled,
		"response_dry_run", cfg.Response.DryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, chClient, err := setupStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Threat intelligence
	intelSvc := intel.NewService(cfg.Intel, logger)

	// Detection model
	slot := model.NewSlot(nil)
	if _, err := setupModel(ctx, cfg, slot, store, logger); err != nil {
		slog.Error("failed to initialize model registry", "error", err)
		os.Exit(1)
	}

	// Alerting
	alerts := alerting.NewManager(cfg.Alerting.ManagerConfig(), store)
	addChannels(alerts, cfg.Alerting)

	// Automated response
	executor := response.NewExecutor(cfg.Response, store)

	// Pipeline
	validator := schema.NewValidatorWithConfig(cfg.Validation.ValidatorConfig())
	eventQueue := queue.NewRingBuffer(cfg.Queue.Size)

	processor := pipeline.NewProcessor(cfg.Pipeline, slot, intelSvc, store, alerts, executor)
	consumer := pipeline.NewConsumer(eventQueue, processor, cfg.Consumer)
	consumer.Start(ctx)

	// HTTP ingest
	handler := ingest.NewHandler(validator, eventQueue).
		WithMaxPayload(cfg.Ingest.MaxPayloadSize).
		WithMaxBatch(cfg.Ingest.MaxBatchSize)

	wrapped, limiter := ingest.WithMiddleware(handler.Routes(), ingest.MiddlewareConfig{
		Auth:      cfg.Auth,
		RateLimit: cfg.RateLimit,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      wrapped,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting ingest server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Kafka ingest
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka.Config, ingest.KafkaHandler(validator, eventQueue), logger)
		if err != nil {
			slog.Error("failed to create kafka consumer", "error", err)
			os.Exit(1)
		}
		if err := kafkaConsumer.StartAsync(); err != nil {
			slog.Error("failed to start kafka consumer", "error", err)
			os.Exit(1)
		}
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting new work first, then drain.
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			slog.Error("kafka consumer stop error", "error", err)
		}
	}

	consumer.Stop()
	cancel()

	eventQueue.Close()

	if limiter != nil {
		limiter.Stop()
	}

	if err := intelSvc.Close(); err != nil {
		slog.Error("intel service close error", "error", err)
	}

	if err := store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	queueMetrics := eventQueue.Metrics()
	consumerMetrics := consumer.Metrics()
	slog.Info("shutdown complete",
		"events_pushed", queueMetrics.Pushed,
		"events_popped", queueMetrics.Popped,
		"events_dropped", queueMetrics.Dropped,
		"events_processed", consumerMetrics.Processed,
		"alerts_raised", consumerMetrics.Alerted,
		"processing_errors", consumerMetrics.Errors,
	)
}

// setupLogging installs the default slog logger per config.
func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// setupStorage returns the configured Store. The ClickHouse client is
// returned separately so main can close the connection last.
func setupStorage(ctx context.Context, cfg *config.Config) (storage.Store, *storage.ClickHouseClient, error) {
	if !cfg.Storage.Enabled {
		slog.Warn("storage disabled, using in-memory store (development only)")
		return storage.NewMemoryStore(), nil, nil
	}

	slog.Info("initializing ClickHouse storage",
		"hosts", cfg.Storage.ClickHouse.Hosts,
		"database", cfg.Storage.ClickHouse.Database,
	)

	chClient, err := storage.NewClickHouseClient(cfg.Storage.ClickHouse)
	if err != nil {
		return nil, nil, fmt.Errorf("connect clickhouse: %w", err)
	}

	chStore := storage.NewClickHouseStore(chClient, cfg.Storage.BatchWriter)

	slog.Info("running database migrations")
	if err := chStore.Migrate(ctx); err != nil {
		chClient.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	retention := storage.NewRetentionManager(chClient, cfg.Storage.Retention)
	if err := retention.ApplyTTLs(ctx); err != nil {
		slog.Warn("failed to apply retention TTLs", "error", err)
	}

	return chStore, chClient, nil
}

// setupModel builds the artifact store and registry and loads the active
// model if one exists. An empty registry is not an error; the detector
// stays in degraded mode until a model is trained and activated.
func setupModel(ctx context.Context, cfg *config.Config, slot *model.Slot, metas model.MetaStore, logger *slog.Logger) (*model.Registry, error) {
	var artifacts model.ArtifactStore
	var err error

	if cfg.Model.S3.Enabled {
		artifacts, err = model.NewS3Store(ctx, cfg.Model.S3.S3Config, logger)
		if err != nil {
			return nil, fmt.Errorf("create s3 artifact store: %w", err)
		}
	} else {
		artifacts = model.NewDirStore(cfg.Model.ArtifactDir)
	}

	registry := model.NewRegistry(slot, artifacts, metas, logger)

	if err := registry.LoadActive(ctx); err != nil {
		if errors.Is(err, model.ErrModelNotFound) {
			slog.Warn("no active model found, anomaly detection degraded until a model is trained")
			return registry, nil
		}
		return nil, fmt.Errorf("load active model: %w", err)
	}

	return registry, nil
}

// addChannels registers the configured notification channels.
func addChannels(alerts *alerting.Manager, cfg config.AlertingConfig) {
	if cfg.Slack.Enabled {
		alerts.AddChannel(alerting.NewSlackChannel(cfg.Slack.WebhookURL, cfg.Slack.Channel, cfg.Slack.Username))
	}

	if cfg.PagerDuty.Enabled {
		alerts.AddChannel(alerting.NewPagerDutyChannel(cfg.PagerDuty.RoutingKey))
	}

	for _, wh := range cfg.Webhooks {
		alerts.AddChannel(alerting.NewWebhookChannel(wh.Name, wh.URL, wh.Headers))
	}

	if cfg.LogAlerts {
		alerts.AddChannel(alerting.NewLogChannel())
	}
}
