package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/todo-outbox/project/internal/platform/dbpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const createSchemaSQL = `CREATE SCHEMA IF NOT EXISTS read_model`

const createTodosTableSQL = `
CREATE TABLE IF NOT EXISTS read_model.todos (
  id uuid PRIMARY KEY,
  title text NOT NULL,
  description text,
  priority text,
  due_date timestamptz,
  is_completed boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const createTodosCreatedIndexSQL = `
CREATE INDEX IF NOT EXISTS read_todos_created_idx
ON read_model.todos (created_at, id)`

const createTodosDueIndexSQL = `
CREATE INDEX IF NOT EXISTS read_todos_due_idx
ON read_model.todos (due_date, id)`

const createProcessedEventsTableSQL = `
CREATE TABLE IF NOT EXISTS read_model.processed_events (
  event_id uuid PRIMARY KEY,
  processed_at timestamptz NOT NULL DEFAULT now()
)`

const eventProcessedSQL = `
SELECT 1 FROM read_model.processed_events WHERE event_id = $1
`

const upsertTodoSQL = `
INSERT INTO read_model.todos (id, title, description, priority, due_date, is_completed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE
SET title = EXCLUDED.title,
    description = EXCLUDED.description,
    priority = EXCLUDED.priority,
    due_date = EXCLUDED.due_date,
    is_completed = EXCLUDED.is_completed,
    updated_at = EXCLUDED.updated_at
`

const insertProcessedEventSQL = `
INSERT INTO read_model.processed_events (event_id) VALUES ($1)
`

type PostgresStore struct {
	Pool   *pgxpool.Pool
	tracer trace.Tracer
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		Pool:   pool,
		tracer: otel.Tracer("projection/store"),
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createSchemaSQL,
		createTodosTableSQL,
		createTodosCreatedIndexSQL,
		createTodosDueIndexSQL,
		createProcessedEventsTableSQL,
	} {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Apply(ctx context.Context, eventID uuid.UUID, row Row) (Outcome, error) {
	ctx, span := s.tracer.Start(ctx, "ProjectionStore.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", eventID.String()),
		attribute.String("todo_id", row.ID.String()),
	)

	outcome, err := s.apply(ctx, eventID, row)
	if err != nil {
		// A concurrent delivery of the same event committed first.
		if dbpool.IsUniqueViolation(err, "processed_events_pkey") {
			span.SetAttributes(attribute.String("outcome", OutcomeAlreadyProcessed.String()))
			return OutcomeAlreadyProcessed, nil
		}
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	return outcome, nil
}

func (s *PostgresStore) apply(ctx context.Context, eventID uuid.UUID, row Row) (Outcome, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin projection tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var marker int
	err = tx.QueryRow(ctx, eventProcessedSQL, eventID).Scan(&marker)
	if err == nil {
		return OutcomeAlreadyProcessed, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("check processed event: %w", err)
	}

	if _, err := tx.Exec(ctx, upsertTodoSQL,
		row.ID,
		row.Title,
		row.Description,
		row.Priority.Nullable(),
		row.DueDate,
		row.IsCompleted,
		row.CreatedAt,
		row.UpdatedAt,
	); err != nil {
		return 0, fmt.Errorf("upsert read todo: %w", err)
	}
	if _, err := tx.Exec(ctx, insertProcessedEventSQL, eventID); err != nil {
		return 0, fmt.Errorf("insert processed event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit projection tx: %w", err)
	}
	return OutcomeApplied, nil
}
