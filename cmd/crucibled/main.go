package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"crucible/internal/config"
	"crucible/internal/daemon"
	"crucible/internal/logging"
	"crucible/internal/metrics"
	"crucible/internal/storage"
	"crucible/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, path, created, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if created {
		log.Printf("wrote sample config to %s; edit the database DSN before production use", path)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	registry := newRegistry()
	store, err := storage.Open(cfg, registry)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		log.Fatalf("open store: %v", err)
	}

	collector := metrics.NewCollector()
	sweeper := workflow.New(cfg, store, logger, collector)

	d, err := daemon.New(cfg, store, registry, logger, sweeper, collector)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer func() { _ = d.Close() }()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	logger.Info("crucibled shutting down")
}
