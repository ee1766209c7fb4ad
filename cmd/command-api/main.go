package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/todo-outbox/project/internal/app/commandapi"
	"github.com/todo-outbox/project/internal/platform/config"
	"github.com/todo-outbox/project/internal/platform/dbpool"
	"github.com/todo-outbox/project/internal/platform/logging"
	"github.com/todo-outbox/project/internal/platform/telemetry"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "command-api:", err)
		os.Exit(1)
	}
}

func run() error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.CommandAPI]()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging, "command-api")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.Setup(runCtx, cfg.Telemetry, "command-api")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := dbpool.New(runCtx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := commandapi.NewPostgresStore(pool)
	if err := dbpool.WaitReady(runCtx, pool, logger, cfg.SchemaTimeout, store.EnsureSchema); err != nil {
		return err
	}

	service := commandapi.NewService(store, logger)
	handler := commandapi.NewHandler(service, store.Ready, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("command api listening", zap.String("addr", cfg.Addr))
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
