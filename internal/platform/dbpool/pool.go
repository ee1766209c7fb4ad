package dbpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/todo-outbox/project/internal/platform/config"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

func New(ctx context.Context, db config.Database) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	minConns, maxConns := poolBounds(db.MinConns, db.MaxConns)
	cfg.MinConns = int32(minConns)
	cfg.MaxConns = int32(maxConns)
	if db.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = db.MaxConnLifetime
	}
	if db.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = db.MaxConnIdleTime
	}
	if db.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = db.HealthCheckPeriod
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	return pgxpool.NewWithConfig(ctx, cfg)
}

func poolBounds(minConns, maxConns int) (int, int) {
	const (
		defaultMinConns = 2
		defaultMaxConns = 20
	)
	if minConns < 0 {
		minConns = defaultMinConns
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	return minConns, maxConns
}

// WaitReady pings the pool and runs each schema step until all succeed or
// timeout elapses.
func WaitReady(
	ctx context.Context,
	pool *pgxpool.Pool,
	logger *zap.Logger,
	timeout time.Duration,
	steps ...func(context.Context) error,
) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		for _, step := range steps {
			if lastErr != nil {
				break
			}
			lastErr = step(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		logger.Warn("waiting for postgres readiness", zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("postgres not ready after %s: %w", timeout, lastErr)
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
// A non-empty constraint narrows the match to that constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
