package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nuid"
	"github.com/todo-outbox/project/internal/platform/config"
	"github.com/todo-outbox/project/internal/platform/logging"
	"github.com/todo-outbox/project/internal/platform/metrics"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "load-generator:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load[config.LoadGenerator]()
	if err != nil {
		return err
	}
	if cfg.Clients <= 0 {
		return fmt.Errorf("LOADGEN_CLIENTS must be > 0")
	}
	logger, err := logging.New(cfg.Logging, "load-generator")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go metrics.Serve(baseCtx, cfg.MetricsAddr, logger)

	transport := &http.Transport{
		MaxIdleConns:        cfg.Clients * 4,
		MaxIdleConnsPerHost: cfg.Clients * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	r := &runner{
		commandBase:    strings.TrimRight(strings.TrimSpace(cfg.CommandAPIBase), "/"),
		duplicateRatio: cfg.DuplicateRatio,
		client:         &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		logger:         logger.With(zap.String("run_id", nuid.Next())),
	}

	queryBase := strings.TrimRight(strings.TrimSpace(cfg.QueryAPIBase), "/")
	for _, base := range []string{r.commandBase, queryBase} {
		if err := r.waitReady(ctx, base+"/readyz", cfg.StartupWait); err != nil {
			return fmt.Errorf("%s not ready: %w", base, err)
		}
	}

	interval := time.Second
	if cfg.ActionsPerClientPerSec > 0 {
		interval = time.Duration(float64(time.Second) / cfg.ActionsPerClientPerSec)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	r.logger.Info("load generator started",
		zap.Int("clients", cfg.Clients),
		zap.Duration("duration", cfg.Duration),
		zap.Duration("interval", interval),
		zap.Float64("duplicate_ratio", cfg.DuplicateRatio),
	)
	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Clients; i++ {
		delay := time.Duration(float64(cfg.RampUp) / float64(cfg.Clients) * float64(i))
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			r.runClient(ctx, idx, interval)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()

	r.logger.Info("load test complete",
		zap.Int64("created", r.created.Load()),
		zap.Int64("replayed", r.replayed.Load()),
		zap.Int64("mismatches", r.mismatches.Load()),
		zap.Int64("errors", r.failures.Load()),
	)
	if r.mismatches.Load() > 0 {
		return fmt.Errorf("%d duplicate submissions returned a different body", r.mismatches.Load())
	}
	return nil
}
