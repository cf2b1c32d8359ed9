package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/audit"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	dynamodbRepo "github.com/dreschagin/device-lifecycle/internal/infrastructure/persistence/dynamodb"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/persistence/postgres"
	"github.com/dreschagin/device-lifecycle/pkg/config"
	"github.com/dreschagin/device-lifecycle/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	auditCfg, err := audit.ConfigFrom(baseCfg.Audit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load auditor config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(baseCfg.LogLevel)
	log.Info(
		"Starting circularity auditor",
		"interval", auditCfg.Interval.String(),
		"port", auditCfg.Port,
		"passport_backend", baseCfg.Storage.PassportBackend,
	)

	if baseCfg.Storage.DeviceBackend != config.BackendPostgres {
		log.Error("Auditor needs the durable ledger", fmt.Errorf("DEVICE_BACKEND=%s, want postgres", baseCfg.Storage.DeviceBackend))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", baseCfg.Database.DSN())
	if err != nil {
		log.Error("Failed to connect to database", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Error("Failed to ping database", err)
		os.Exit(1)
	}

	var passports repository.PassportRepository
	switch baseCfg.Storage.PassportBackend {
	case config.BackendDynamo:
		passports, err = dynamodbRepo.NewPassportRepository(ctx, dynamodbRepo.Config{
			TableName:       baseCfg.Dynamo.TableName,
			Region:          baseCfg.Dynamo.Region,
			Endpoint:        baseCfg.Dynamo.Endpoint,
			AccessKeyID:     baseCfg.Dynamo.AccessKeyID,
			SecretAccessKey: baseCfg.Dynamo.SecretAccessKey,
			StrongReads:     baseCfg.Dynamo.StrongReads,
		})
		if err != nil {
			log.Error("Failed to initialize passport repository", err)
			os.Exit(1)
		}
	default:
		passports = postgres.NewPassportRepository(db)
	}

	events := postgres.NewLifecycleEventRepository(db)
	service := audit.NewService(events, postgres.NewDeviceRepository(db), events, passports, nil)
	runner := audit.NewRunner(service, log, auditCfg)
	handler := audit.NewHandler(runner)

	if _, err := runner.RunOnce(ctx); err != nil {
		log.Error("Initial audit cycle failed", err)
	}

	go runner.Start(ctx)

	server := &http.Server{
		Addr:         ":" + auditCfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: auditCfg.RunTimeout + 5*time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		log.Info("Circularity auditor HTTP server started", "port", auditCfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Circularity auditor HTTP server failed", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Circularity auditor HTTP server shutdown failed", err)
	}

	log.Info("Circularity auditor stopped")
}
