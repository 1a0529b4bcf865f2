package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/logging"
	"classattend/internal/observability"
	"classattend/internal/store"
	"classattend/internal/worker"
)

var version = "dev"

// Worker consumes background jobs. Today that is re-checking the cached
// enrollments of users whose membership changed.
func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("env: %v", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, _, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open backends", zap.Error(err))
	}
	defer func() { _ = backends.Close() }()
	if cfg.QueueBackend == "memory" {
		logger.Warn("in-memory queue is drained by the api process; this worker will stay idle")
	}

	svc := attendance.NewService(backends.Docs, logger)
	if err := worker.Run(ctx, svc, backends.Jobs, logger); err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}
}
