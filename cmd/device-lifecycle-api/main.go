package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Application
	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/gateway"
	"github.com/dreschagin/device-lifecycle/internal/application/lock"
	applicationPort "github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/application/usecase"

	// Domain
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"

	// Infrastructure
	cacheMemory "github.com/dreschagin/device-lifecycle/internal/infrastructure/cache/memory"
	redisCache "github.com/dreschagin/device-lifecycle/internal/infrastructure/cache/redis"
	ledgerRemote "github.com/dreschagin/device-lifecycle/internal/infrastructure/ledger/remote"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/ledger/simulated"
	mqttInfra "github.com/dreschagin/device-lifecycle/internal/infrastructure/messaging/mqtt"
	natsInfra "github.com/dreschagin/device-lifecycle/internal/infrastructure/messaging/nats"
	wsInfra "github.com/dreschagin/device-lifecycle/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/observability/cloudwatch"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/observability/metrics"
	boltOutbox "github.com/dreschagin/device-lifecycle/internal/infrastructure/outbox/bolt"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/persistence/clickhouse"
	dynamodbRepo "github.com/dreschagin/device-lifecycle/internal/infrastructure/persistence/dynamodb"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/persistence/memory"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/persistence/postgres"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/policy"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/prediction/heuristic"
	predictionRemote "github.com/dreschagin/device-lifecycle/internal/infrastructure/prediction/remote"
	storageMemory "github.com/dreschagin/device-lifecycle/internal/infrastructure/storage/memory"
	s3storage "github.com/dreschagin/device-lifecycle/internal/infrastructure/storage/s3"

	// Interfaces
	httpInterface "github.com/dreschagin/device-lifecycle/internal/interfaces/http"
	"github.com/dreschagin/device-lifecycle/internal/interfaces/http/handler"
	"github.com/dreschagin/device-lifecycle/internal/interfaces/http/middleware"

	// Shared
	"github.com/dreschagin/device-lifecycle/pkg/config"
	"github.com/dreschagin/device-lifecycle/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	// 1. Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализируем logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting Device Lifecycle API",
		"device_backend", cfg.Storage.DeviceBackend,
		"telemetry_backend", cfg.Telemetry.Backend,
		"passport_backend", cfg.Storage.PassportBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readiness := make(map[string]handler.ReadinessCheck)

	// 3. Подключаемся к БД, если она нужна хоть одному хранилищу
	var db *sql.DB
	if cfg.UsesPostgres() {
		db, err = openPostgres(ctx, cfg.Database)
		if err != nil {
			log.Error("Failed to connect to database", err)
			os.Exit(1)
		}
		defer db.Close()
		readiness["postgres"] = db.PingContext
		log.Info("Database connected successfully")
	}

	// 4. Dependency Injection - Infrastructure Layer

	// Repositories
	var (
		devices   repository.DeviceRepository
		events    repository.LifecycleEventRepository
		telemetry repository.TelemetryRepository
		passports repository.PassportRepository
	)
	switch cfg.Storage.DeviceBackend {
	case config.BackendPostgres:
		devices = postgres.NewDeviceRepository(db)
		events = postgres.NewLifecycleEventRepository(db)
	default:
		memDevices := memory.NewDeviceRepository()
		devices = memDevices
		events = memory.NewLifecycleEventRepository(memDevices)
		log.Warn("In-memory device storage: state is lost on restart")
	}

	switch cfg.Telemetry.Backend {
	case config.BackendPostgres:
		telemetry = postgres.NewTelemetryRepository(db)
	case config.BackendClickHouse:
		chRepo, initErr := clickhouse.Open(ctx, clickhouse.Config{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		})
		if initErr != nil {
			log.Error("Failed to initialize ClickHouse telemetry repository", initErr)
			os.Exit(1)
		}
		defer chRepo.Close()
		telemetry = chRepo
		log.Info("Telemetry repository initialized", "provider", "clickhouse", "addr", cfg.ClickHouse.Addr)
	default:
		telemetry = memory.NewTelemetryRepository()
	}

	switch cfg.Storage.PassportBackend {
	case config.BackendPostgres:
		passports = postgres.NewPassportRepository(db)
	case config.BackendDynamo:
		repoImpl, initErr := dynamodbRepo.NewPassportRepository(ctx, dynamodbRepo.Config{
			TableName:       cfg.Dynamo.TableName,
			Region:          cfg.Dynamo.Region,
			Endpoint:        cfg.Dynamo.Endpoint,
			AccessKeyID:     cfg.Dynamo.AccessKeyID,
			SecretAccessKey: cfg.Dynamo.SecretAccessKey,
			StrongReads:     cfg.Dynamo.StrongReads,
		})
		if initErr != nil {
			log.Error("Failed to initialize passport repository", initErr)
			os.Exit(1)
		}
		passports = repoImpl
		log.Info("Passport repository initialized", "provider", "dynamodb")
	default:
		passports = memory.NewPassportRepository()
	}

	// Image storage
	var images applicationPort.ImageStorage
	if cfg.S3.Enabled {
		storageImpl, initErr := s3storage.NewImageStorage(ctx, s3storage.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
			URLMode:         s3storage.URLMode(cfg.S3.URLMode),
			PresignedTTL:    cfg.S3.PresignedTTL,
		})
		if initErr != nil {
			log.Error("Failed to initialize image storage", initErr)
			os.Exit(1)
		}
		images = storageImpl
	} else {
		images = storageMemory.NewImageStorage()
		log.Warn("S3 storage is disabled, device images are kept in memory")
	}

	// Analysis cache
	var cache applicationPort.Cache
	if cfg.Redis.Enabled {
		cacheImpl, initErr := redisCache.NewRedisCache(redisCache.Config{
			Host:       cfg.Redis.Host,
			Port:       cfg.Redis.Port,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			KeyPrefix:  "device-lifecycle:",
			DefaultTTL: cfg.Analysis.FreshnessTTL,
		})
		if initErr != nil {
			log.Warn("Failed to connect to Redis, falling back to in-memory cache", "error", initErr.Error())
		} else {
			cache = cacheImpl
			readiness["redis"] = cacheImpl.Ping
			log.Info("Redis cache initialized", "host", cfg.Redis.Host)
		}
	}
	if cache == nil {
		cache = cacheMemory.New(cfg.Analysis.FreshnessTTL)
	}
	defer cache.Close()

	// WebSocket Hub
	hub := wsInfra.NewHub(log)

	// Prometheus
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics := metrics.New(registry)

	// 4.5. CloudWatch Integration

	// CloudWatch Metrics Publisher
	var metricsPublisher *cloudwatch.MetricsPublisher
	var logsPublisher *cloudwatch.LogsPublisher
	if cfg.CloudWatch.Enabled {
		metricsPublisher, err = cloudwatch.NewMetricsPublisher(ctx, cloudwatch.MetricsPublisherConfig{
			Namespace:         cfg.CloudWatch.Namespace,
			Region:            cfg.CloudWatch.Region,
			Endpoint:          cfg.CloudWatch.Endpoint,
			AccessKeyID:       cfg.CloudWatch.AccessKeyID,
			SecretAccessKey:   cfg.CloudWatch.SecretAccessKey,
			DefaultDimensions: map[string]string{"Service": "device-lifecycle-api"},
			FlushInterval:     cfg.CloudWatch.FlushInterval,
		})
		if err != nil {
			log.Error("Failed to initialize CloudWatch metrics publisher", err)
			os.Exit(1)
		}
		promMetrics.ForwardTo(metricsPublisher)

		logsPublisher, err = cloudwatch.NewLogsPublisher(ctx, cloudwatch.LogsPublisherConfig{
			LogGroupName:    cfg.CloudWatch.LogGroup,
			LogStreamName:   cfg.CloudWatch.LogStream,
			Region:          cfg.CloudWatch.Region,
			Endpoint:        cfg.CloudWatch.Endpoint,
			AccessKeyID:     cfg.CloudWatch.AccessKeyID,
			SecretAccessKey: cfg.CloudWatch.SecretAccessKey,
			FlushInterval:   cfg.CloudWatch.FlushInterval,
			AutoCreate:      true,
		})
		if err != nil {
			log.Error("Failed to initialize CloudWatch logs publisher", err)
			os.Exit(1)
		}
		log.SetSink(logsPublisher.Sink())
		log.Info("CloudWatch publishers initialized", "namespace", cfg.CloudWatch.Namespace)
	} else {
		log.Warn("CloudWatch publishing is disabled")
	}

	// 4.6. NATS Event Publisher
	var eventPublisher applicationPort.EventPublisher
	if cfg.NATS.Enabled {
		publisherImpl, initErr := natsInfra.NewNATSPublisher(cfg.NATS.URL, log)
		if initErr != nil {
			log.Warn("Failed to connect to NATS, continuing without event publishing", "error", initErr.Error())
		} else {
			eventPublisher = publisherImpl
			defer eventPublisher.Close()
			log.Info("NATS event publisher initialized", "url", cfg.NATS.URL)
		}
	} else {
		log.Warn("NATS event publishing is disabled")
	}

	// Prediction backends: remote, если задан URL, иначе локальная эвристика
	backends := gateway.Backends{
		Health:  heuristic.NewHealthPredictor(),
		Grader:  heuristic.NewGrader(),
		Pricing: heuristic.NewPriceEstimator(cfg.Gateway.Currency),
	}
	if cfg.Gateway.HealthURL != "" {
		backends.Health = predictionRemote.NewClient(cfg.Gateway.HealthURL, predictionRemote.HealthPath, cfg.Gateway.APIKey, cfg.Gateway.HealthTimeout)
	}
	if cfg.Gateway.GradingURL != "" {
		backends.Grader = predictionRemote.NewClient(cfg.Gateway.GradingURL, predictionRemote.GradingPath, cfg.Gateway.APIKey, cfg.Gateway.GradingTimeout)
	}
	if cfg.Gateway.PricingURL != "" {
		backends.Pricing = predictionRemote.NewClient(cfg.Gateway.PricingURL, predictionRemote.PricingPath, cfg.Gateway.APIKey, cfg.Gateway.PricingTimeout)
	}
	predictionGateway := gateway.New(backends, gateway.Config{
		Timeouts: map[valueobject.Capability]time.Duration{
			valueobject.CapabilityHealth:  cfg.Gateway.HealthTimeout,
			valueobject.CapabilityGrading: cfg.Gateway.GradingTimeout,
			valueobject.CapabilityPricing: cfg.Gateway.PricingTimeout,
		},
		Breaker: gateway.BreakerConfig{
			FailureThreshold: cfg.Gateway.FailureThreshold,
			Cooldown:         cfg.Gateway.BreakerCooldown,
		},
	}, promMetrics, log.With("component", "gateway"))
	promMetrics.TrackBreakers(predictionGateway.BreakerStates)

	// Passport ledger
	var ledger applicationPort.PassportLedger
	if cfg.Ledger.URL != "" {
		ledger = ledgerRemote.NewClient(cfg.Ledger.URL, cfg.Ledger.APIKey, cfg.Ledger.Timeout)
		log.Info("Remote passport ledger configured", "url", cfg.Ledger.URL)
	} else {
		ledger = simulated.New(cfg.Ledger.Network, log.With("component", "ledger"))
		log.Warn("Using simulated passport ledger")
	}

	var outbox applicationPort.SyncOutbox
	if cfg.Ledger.OutboxPath != "" {
		if mkErr := os.MkdirAll(filepath.Dir(cfg.Ledger.OutboxPath), 0o755); mkErr != nil {
			log.Error("Failed to create outbox directory", mkErr)
			os.Exit(1)
		}
		outboxImpl, initErr := boltOutbox.Open(cfg.Ledger.OutboxPath)
		if initErr != nil {
			log.Error("Failed to open ledger outbox", initErr, "path", cfg.Ledger.OutboxPath)
			os.Exit(1)
		}
		defer outboxImpl.Close()
		outbox = outboxImpl
	} else {
		log.Warn("Ledger outbox is disabled, failed syncs are dropped")
	}

	// 5. Dependency Injection - Domain Layer

	recommendationPolicy, err := policy.Load(cfg.Recommendation.PolicyPath)
	if err != nil {
		log.Error("Failed to load recommendation policy", err, "path", cfg.Recommendation.PolicyPath)
		os.Exit(1)
	}
	lifecyclePolicy := service.NewLifecyclePolicy()
	calculator := service.NewCircularityCalculator()
	recommendationEngine := service.NewRecommendationEngine(recommendationPolicy, lifecyclePolicy)

	// 6. Dependency Injection - Application Layer (Use Cases)

	telemetryStore := usecase.NewTelemetryStore(
		telemetry,
		service.NewTelemetryValidator(nil),
		usecase.TelemetryStoreConfig{
			MinSnapshots: cfg.Telemetry.MinSnapshots,
			MinCoverage:  cfg.Telemetry.MinCoverage,
		},
		nil,
	)

	var analysisMetrics applicationPort.MetricsPublisher
	if metricsPublisher != nil {
		analysisMetrics = metricsPublisher
	}
	analyzeUC := usecase.NewAnalyzeDeviceUseCase(usecase.AnalyzeDeviceDeps{
		Devices:   devices,
		Telemetry: telemetryStore,
		Gateway:   predictionGateway,
		Images:    images,
		Cache:     cache,
		Publisher: eventPublisher,
		Notifier:  hub,
		Metrics:   analysisMetrics,
		Observer:  promMetrics,
	}, usecase.AnalyzeConfig{
		WindowDays:    cfg.Telemetry.WindowDays,
		GlobalTimeout: cfg.Analysis.GlobalTimeout,
		FreshnessTTL:  cfg.Analysis.FreshnessTTL,
		DefaultPolicy: dto.DedupPolicy(cfg.Analysis.DedupPolicy),
	}, log.With("component", "analysis"), nil)

	syncUC := usecase.NewSyncPassportUseCase(ledger, outbox, passports, promMetrics, usecase.SyncPassportConfig{
		AttemptTimeout: cfg.Ledger.Timeout,
		InitialBackoff: cfg.Ledger.InitialBackoff,
		MaxBackoff:     cfg.Ledger.MaxBackoff,
		BatchSize:      cfg.Ledger.BatchSize,
	}, log.With("component", "ledger_sync"), nil)

	locks := lock.NewKeyedMutex()
	appendEventUC := usecase.NewAppendLifecycleEventUseCase(usecase.LifecycleDeps{
		Devices:     devices,
		Events:      events,
		Passports:   passports,
		Policy:      lifecyclePolicy,
		Calculator:  calculator,
		Locks:       locks,
		Invalidator: analyzeUC,
		Syncer:      syncUC,
		Publisher:   eventPublisher,
		Notifier:    hub,
	}, log, nil)
	profileUC := usecase.NewGetCircularityProfileUseCase(devices, events, calculator, nil)
	recommendUC := usecase.NewGetRecommendationUseCase(devices, profileUC, analyzeUC, recommendationEngine, log, nil)

	passportDeps := usecase.PassportDeps{
		Devices:    devices,
		Events:     events,
		Passports:  passports,
		Ledger:     ledger,
		Calculator: calculator,
		Locks:      locks,
		Syncer:     syncUC,
		Publisher:  eventPublisher,
	}

	ingestUC := usecase.NewIngestTelemetryUseCase(devices, telemetryStore, log)

	// 7. Dependency Injection - Interfaces Layer (HTTP Handlers)

	authConfig := middleware.AuthConfig{
		Enabled:     cfg.Security.AuthEnabled,
		LedgerToken: cfg.Security.AuthToken,
		DeviceToken: cfg.Security.DeviceToken,
	}

	handlers := httpInterface.Handlers{
		Devices: handler.NewDeviceAPIHandler(
			usecase.NewRegisterDeviceUseCase(devices, log, nil),
			usecase.NewGetDeviceUseCase(devices),
			ingestUC,
			usecase.NewGetTelemetryWindowUseCase(devices, telemetryStore),
			cfg.Telemetry.WindowDays,
			log,
		),
		Images: handler.NewImageAPIHandler(
			usecase.NewUploadDeviceImagesUseCase(devices, images, log),
			usecase.NewLatestDeviceImagesUseCase(images),
			cfg.Images.MaxPayloadBytes,
			cfg.Images.MaxArtifactBytes,
			cfg.Images.RateLimitPerMinute,
			log,
		),
		Analysis: handler.NewAnalysisAPIHandler(analyzeUC, recommendUC, log),
		Lifecycle: handler.NewLifecycleAPIHandler(
			appendEventUC,
			usecase.NewListLifecycleEventsUseCase(devices, events),
			profileUC,
			log,
		),
		Passports: handler.NewPassportAPIHandler(
			usecase.NewMintPassportUseCase(passportDeps, log, nil),
			usecase.NewGetPassportUseCase(passports),
			usecase.NewTransferOwnershipUseCase(passportDeps, log, nil),
			syncUC,
			log,
		),
		Auth:      handler.NewAuthAPIHandler(authConfig, log),
		Health:    handler.NewHealthHandler(predictionGateway.BreakerStates, outbox, hub, readiness),
		WebSocket: handler.NewWebSocketHandler(hub, cfg.Security.AllowedOrigins, authConfig, log),
	}
	if cfg.Audit.BaseURL != "" {
		handlers.Audit = handler.NewAuditAPIHandler(cfg.Audit.BaseURL, cfg.Audit.Timeout, log)
	}

	options := httpInterface.Options{
		Security:       cfg.Security,
		Instrument:     promMetrics.Middleware,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		defer limiter.Stop()
		options.RateLimiter = limiter
	}

	router := httpInterface.NewRouter(handlers, options, log)

	// 8. Запускаем фоновые процессы

	// Запускаем WebSocket hub
	go hub.Run(ctx)
	log.Info("WebSocket hub started")

	// Повторная синхронизация паспортов с реестром
	if outbox != nil {
		go syncUC.Start(ctx, cfg.Ledger.RetryInterval)
		log.Info("Ledger sync worker started", "interval", cfg.Ledger.RetryInterval.String())
	}

	// Прием телеметрии по MQTT
	if cfg.MQTT.Enabled {
		subscriber := mqttInfra.NewSubscriber(mqttInfra.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, ingestUC, log.With("component", "mqtt"))
		if err := subscriber.Start(ctx); err != nil {
			log.Warn("Failed to start MQTT subscriber, continuing without it", "error", err.Error())
		} else {
			defer subscriber.Close()
			log.Info("MQTT subscriber started", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topic)
		}
	}

	// 9. Настраиваем HTTP сервер

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Канал для получения сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Запускаем сервер в отдельной goroutine
	go func() {
		log.Info("HTTP server starting", "port", cfg.Server.Port)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}()

	// 10. Ожидаем сигнал для graceful shutdown

	<-sigChan
	log.Info("Shutdown signal received, starting graceful shutdown...")

	// Даем время на завершение текущих операций
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", err)
	}

	// Останавливаем фоновые процессы
	cancel()

	// Flush CloudWatch buffers before shutdown
	if metricsPublisher != nil {
		log.Info("Flushing CloudWatch metrics buffer...")
		if err := metricsPublisher.Close(shutdownCtx); err != nil {
			log.Error("Failed to flush CloudWatch metrics", err)
		}
	}
	if logsPublisher != nil {
		log.Info("Server stopped gracefully")
		log.SetSink(nil)
		if err := logsPublisher.Close(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to flush CloudWatch logs: %v\n", err)
		}
		return
	}

	log.Info("Server stopped gracefully")
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Настраиваем connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}
