package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/app"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/config"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/logging"
)

func main() {
	loader, err := config.NewLoader("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg, err := loader.Config()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.App.LogLevel, cfg.App.LogFormat)
	watchConfig(loader, cfg, logger)

	runtime, err := app.Build(cfg, logger.Logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime.Start(ctx)

	if runtime.Events != nil {
		unsubscribe, err := runtime.ServeIngest()
		if err != nil {
			logger.Error("failed to subscribe to ingest commands", "error", err)
			_ = runtime.Close()
			os.Exit(1)
		}
		defer unsubscribe()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      runtime.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("server is shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("could not gracefully shutdown the server", "error", err)
		}
		close(done)
	}()

	logger.Info("server is ready to handle requests", "addr", srv.Addr, "node_id", cfg.App.NodeID)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("could not listen", "addr", srv.Addr, "error", err)
		stop()
	}

	<-done
	if err := runtime.Close(); err != nil {
		logger.Warn("runtime closed with errors", "error", err)
	}
	logger.Info("server stopped")
}

// watchConfig applies the log level live; other keys need a restart.
func watchConfig(loader *config.Loader, current *config.Config, logger *logging.Logger) {
	last := *current
	loader.Watch(func(next *config.Config, e fsnotify.Event, err error) {
		if err != nil {
			logger.Warn("config reload failed", "file", e.Name, "error", err)
			return
		}
		live, restart := config.Reloadable(&last, next)
		for _, key := range live {
			if key == "app.log_level" {
				logger.SetLevel(next.App.LogLevel)
			}
		}
		if len(restart) > 0 {
			logger.Warn("config changes require a restart", "keys", restart)
		}
		logger.Info("config reloaded", "file", e.Name, "applied", live)
		last = *next
	})
}
