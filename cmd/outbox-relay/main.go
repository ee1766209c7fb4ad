package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/todo-outbox/project/internal/app/outbox"
	"github.com/todo-outbox/project/internal/platform/config"
	"github.com/todo-outbox/project/internal/platform/dbpool"
	"github.com/todo-outbox/project/internal/platform/logging"
	"github.com/todo-outbox/project/internal/platform/metrics"
	"github.com/todo-outbox/project/internal/platform/natsutil"
	"github.com/todo-outbox/project/internal/platform/telemetry"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "outbox-relay:", err)
		os.Exit(1)
	}
}

func run() error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.OutboxRelay]()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging, "outbox-relay")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.Setup(runCtx, cfg.Telemetry, "outbox-relay")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := dbpool.New(runCtx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := outbox.NewPostgresStore(pool)
	if err := dbpool.WaitReady(runCtx, pool, logger, cfg.SchemaTimeout, store.EnsureSchema); err != nil {
		return err
	}

	client, err := natsutil.ConnectJetStreamWithRetry(runCtx, cfg.NATS.URL, "outbox-relay", cfg.NATS.ConnectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	go metrics.Serve(runCtx, cfg.MetricsAddr, logger)

	relay := outbox.NewRelay(store, natsutil.JetStreamPublisher{JS: client.JS}, logger)
	relay.BatchSize = cfg.BatchSize
	relay.Interval = cfg.PollInterval
	relay.Run(runCtx)

	logger.Info("outbox relay stopped", zap.String("nats_url", cfg.NATS.URL))
	return nil
}
