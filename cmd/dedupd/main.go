package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	dedupapp "github.com/offerbook/dedup/internal/application/dedup"
	"github.com/offerbook/dedup/internal/infrastructure/cache"
	"github.com/offerbook/dedup/internal/infrastructure/config"
	"github.com/offerbook/dedup/internal/infrastructure/event"
	"github.com/offerbook/dedup/internal/infrastructure/intake"
	"github.com/offerbook/dedup/internal/infrastructure/logger"
	"github.com/offerbook/dedup/internal/infrastructure/persistence"
	"github.com/offerbook/dedup/internal/infrastructure/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting dedup engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
	)

	ctx := context.Background()

	// Initialize distributed tracing
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Initialize metrics
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()
	meter := meterProvider.Meter("dedupd")

	// Initialize OTEL log export and tee the logger into it
	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	defer func() {
		if err := logsProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()
	if logsProvider.IsEnabled() {
		bridgeLevel, parseErr := zapcore.ParseLevel(cfg.Log.Level)
		if parseErr != nil {
			bridgeLevel = zapcore.InfoLevel
		}
		otelCore := telemetry.NewZapOTELCore(telemetry.ZapBridgeConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			LoggerProvider: logsProvider,
			Level:          bridgeLevel,
		})
		log = telemetry.NewBridgedLogger(log.Core(), otelCore,
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
		log.Info("Logs bridged to OpenTelemetry collector")
	}

	// Start continuous profiling
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:              cfg.Profiling.Enabled,
		ServerAddress:        cfg.Profiling.ServerAddress,
		ApplicationName:      cfg.Profiling.ApplicationName,
		BasicAuthUser:        cfg.Profiling.BasicAuthUser,
		BasicAuthPassword:    cfg.Profiling.BasicAuthPassword,
		ProfileCPU:           true,
		ProfileAllocObjects:  true,
		ProfileAllocSpace:    true,
		ProfileInuseObjects:  true,
		ProfileInuseSpace:    true,
		ProfileGoroutines:    true,
		MutexProfileFraction: cfg.Profiling.MutexProfileFraction,
		BlockProfileRate:     cfg.Profiling.BlockProfileRate,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}()
	if cfg.Telemetry.Enabled && cfg.Profiling.Enabled {
		if err := tracerProvider.EnableSpanProfiles(); err != nil {
			log.Warn("Failed to enable span profiles", zap.Error(err))
		}
	}

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel,
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
	)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Register database tracing (otelgorm) if enabled
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		tracingPlugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:        "postgresql",
		}, log)
		if err := tracingPlugin.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		} else {
			log.Info("Database tracing enabled",
				zap.Duration("slow_query_threshold", cfg.Telemetry.DBSlowQueryThresh),
			)
		}
	}

	// Register database metrics (query counters, pool stats) if enabled
	var dbMetrics *telemetry.DBMetrics
	if cfg.Telemetry.Enabled {
		dbMetrics, err = telemetry.NewDBMetrics(meter, telemetry.DBMetricsConfig{
			Enabled:            true,
			SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize database metrics", zap.Error(err))
		}
		if err := db.DB.Use(telemetry.NewDBMetricsPlugin(dbMetrics, log)); err != nil {
			log.Warn("Failed to register database metrics plugin", zap.Error(err))
		}
		if sqlDB, sqlErr := db.DB.DB(); sqlErr == nil {
			dbMetrics.SetSQLDB(sqlDB)
			dbMetrics.StartPoolStatsCollection(ctx)
		}
		defer dbMetrics.Stop()
	}

	// Initialize repositories
	batchRepo := persistence.NewGormIntakeBatchRepository(db.DB)
	outboxRepo := persistence.NewGormOutboxRepository(db.DB)

	// Business metrics: batch outcomes from the poller, event deliveries
	// from the bus subscribers, backlog gauges from periodic store sampling
	businessMetrics, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:         meter,
		Logger:        log,
		StoreProvider: telemetry.NewGormStoreMetricsProvider(db.DB),
	})
	if err != nil {
		log.Fatal("Failed to initialize business metrics", zap.Error(err))
	}
	if cfg.Telemetry.Enabled {
		businessMetrics.StartPeriodicCollection(ctx, 0)
	}
	defer businessMetrics.Stop()

	// Initialize event serializer and register all event types
	eventSerializer := event.NewEventSerializer()
	event.RegisterAllEvents(eventSerializer)
	log.Info("Event types registered",
		zap.Strings("event_types", eventSerializer.RegisteredTypes()),
	)

	// Initialize event bus
	eventBus := event.NewInMemoryEventBus(log)
	if err := eventBus.Start(context.Background()); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	defer func() {
		if err := eventBus.Stop(context.Background()); err != nil {
			log.Error("Error stopping event bus", zap.Error(err))
		}
	}()

	// Idempotency store: guards both event redelivery and batch claims
	storeFactory := cache.NewIdempotencyStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithRedisRequired(cfg.Redis.Required),
	)
	idempotencyStore, err := storeFactory.CreateStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() {
		if err := idempotencyStore.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Register the outcome feed: durable dedup decisions flow to downstream
	// consumers exactly once per event id
	outcomeHandler := dedupapp.NewOutcomeFeedHandler(log).
		WithPublisher(dedupapp.NewLoggingOutcomeFeedPublisher(log))
	eventBus.Subscribe(event.NewIdempotentHandler(
		outcomeHandler,
		idempotencyStore,
		log,
		event.WithDeliveryMetrics(businessMetrics),
	))
	log.Info("Event handlers registered",
		zap.Strings("outcome_feed_events", outcomeHandler.EventTypes()),
	)

	// Start the outbox relay: staged events become published events
	if cfg.Outbox.ProcessorEnabled {
		outboxConfig := event.OutboxProcessorConfig{
			BatchSize:        cfg.Outbox.BatchSize,
			PollInterval:     cfg.Outbox.PollInterval,
			CleanupEnabled:   cfg.Outbox.CleanupEnabled,
			CleanupRetention: cfg.Outbox.CleanupRetention,
		}
		outboxProcessor := event.NewOutboxProcessor(outboxRepo, eventBus, eventSerializer, outboxConfig, log)
		if err := outboxProcessor.Start(context.Background()); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		defer func() {
			if err := outboxProcessor.Stop(context.Background()); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}()
		log.Info("Outbox processor started",
			zap.Int("batch_size", outboxConfig.BatchSize),
			zap.Duration("poll_interval", outboxConfig.PollInterval),
		)
	}

	// Initialize the dedup pipeline
	scope := persistence.NewGormTransactionScope(db.DB)
	matcher := dedupapp.NewLiveBookMatcher(scope)
	matcher.SetGroupTimeout(cfg.Dedup.GroupTimeout)
	matcher.SetConflictRetries(cfg.Dedup.ConflictRetries)
	topupDeduper := dedupapp.NewTopupDeduper(scope)
	batchService := dedupapp.NewBatchService(scope, matcher, topupDeduper)

	// Start the intake poller: claims staged batches and drives the pipeline
	if cfg.Intake.PollerEnabled {
		poller := intake.NewPoller(batchRepo, batchService, idempotencyStore, intake.PollerConfig{
			PollInterval:     cfg.Intake.PollInterval,
			ClaimLimit:       cfg.Intake.ClaimLimit,
			BatchTimeout:     cfg.Intake.BatchTimeout,
			ClaimTTL:         cfg.Intake.ClaimTTL,
			CleanupEnabled:   cfg.Intake.CleanupEnabled,
			CleanupRetention: cfg.Intake.CleanupRetention,
		}, log)
		poller.SetMetrics(businessMetrics)
		if err := poller.Start(ctx); err != nil {
			log.Fatal("Failed to start intake poller", zap.Error(err))
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := poller.Stop(stopCtx); err != nil {
				log.Error("Error stopping intake poller", zap.Error(err))
			}
		}()
	} else {
		log.Warn("Intake poller disabled; staged batches will not be processed by this instance")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down dedup engine...")
}
