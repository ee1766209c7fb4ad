package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/todo-outbox/project/internal/app/projection"
	"github.com/todo-outbox/project/internal/messaging"
	"github.com/todo-outbox/project/internal/platform/config"
	"github.com/todo-outbox/project/internal/platform/dbpool"
	"github.com/todo-outbox/project/internal/platform/logging"
	"github.com/todo-outbox/project/internal/platform/metrics"
	"github.com/todo-outbox/project/internal/platform/natsutil"
	"github.com/todo-outbox/project/internal/platform/telemetry"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "projector:", err)
		os.Exit(1)
	}
}

func run() error {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[config.Projector]()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging, "projector")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.Setup(runCtx, cfg.Telemetry, "projector")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := dbpool.New(runCtx, cfg.Database.Effective())
	if err != nil {
		return err
	}
	defer pool.Close()

	store := projection.NewPostgresStore(pool)
	if err := dbpool.WaitReady(runCtx, pool, logger, cfg.SchemaTimeout, store.EnsureSchema); err != nil {
		return err
	}
	service := projection.NewService(store, logger)

	client, err := natsutil.ConnectJetStreamWithRetry(runCtx, cfg.NATS.URL, "projector", cfg.NATS.ConnectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	go metrics.Serve(runCtx, cfg.MetricsAddr, logger)

	tracer := otel.Tracer("projector")
	sub, err := client.JS.QueueSubscribe(messaging.EventsSubjects, cfg.Durable, func(msg *nats.Msg) {
		ctx, span := tracer.Start(natsutil.ExtractTrace(runCtx, msg), "Projector.HandleMessage")
		defer span.End()
		ctx, cancel := context.WithTimeout(ctx, cfg.HandleTimeout)
		defer cancel()

		msgLogger := logging.WithTrace(ctx, logger).With(zap.String("subject", msg.Subject))
		if _, err := service.HandleEnvelope(ctx, msg.Data); err != nil {
			span.RecordError(err)
			if errors.Is(err, projection.ErrInvalidEventPayload) {
				msgLogger.Warn("discarding invalid event", zap.Error(err))
				_ = msg.Term()
				return
			}
			msgLogger.Error("event projection failed", zap.Error(err))
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(cfg.Durable), nats.ManualAck(), nats.DeliverAll())
	if err != nil {
		return err
	}
	defer func() { _ = sub.Drain() }()

	logger.Info("projector listening", zap.String("subject", sub.Subject), zap.String("durable", cfg.Durable))
	<-runCtx.Done()
	return nil
}
