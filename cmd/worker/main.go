package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/app"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/config"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/logging"
)

func main() {
	// Config
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}
	// the worker exists only to consume commands from NATS
	cfg.NATS.Enabled = true

	logger := logging.New(cfg.App.LogLevel, cfg.App.LogFormat)

	runtime, err := app.Build(cfg, logger.Logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime.Start(ctx)
	logger.Info("worker started", "node_id", cfg.App.NodeID, "durable", cfg.NATS.Durable)

	// Inicia consumo
	if err := runtime.ConsumeIngest(ctx); err != nil {
		logger.Error("ingest consumer stopped", "error", err)
	}

	logger.Info("shutting down")
	if err := runtime.Close(); err != nil {
		logger.Warn("runtime closed with errors", "error", err)
		os.Exit(1)
	}
}
