package commandapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/todo-outbox/project/internal/app/outbox"
	"github.com/todo-outbox/project/internal/platform/dbpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const processedCommandsPKey = "processed_commands_pkey"

const createTodosTableSQL = `
CREATE TABLE IF NOT EXISTS todos (
  id uuid PRIMARY KEY,
  title text NOT NULL,
  description text,
  priority text,
  due_date timestamptz,
  is_completed boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL,
  updated_at timestamptz NOT NULL
)`

const createProcessedCommandsTableSQL = `
CREATE TABLE IF NOT EXISTS processed_commands (
  command_id uuid PRIMARY KEY,
  result_status integer NOT NULL,
  result_body json NOT NULL,
  processed_at timestamptz NOT NULL DEFAULT now()
)`

const insertTodoSQL = `
INSERT INTO todos (id, title, description, priority, due_date, is_completed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const insertCommandSQL = `
INSERT INTO processed_commands (command_id, result_status, result_body)
VALUES ($1, $2, $3)
`

const lookupCommandSQL = `
SELECT result_status, result_body
FROM processed_commands
WHERE command_id = $1
`

type PostgresStore struct {
	Pool   *pgxpool.Pool
	Outbox *outbox.PostgresStore
	tracer trace.Tracer
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		Pool:   pool,
		Outbox: outbox.NewPostgresStore(pool),
		tracer: otel.Tracer("commandapi/store"),
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, createTodosTableSQL); err != nil {
		return err
	}
	if _, err := s.Pool.Exec(ctx, createProcessedCommandsTableSQL); err != nil {
		return err
	}
	return s.Outbox.EnsureSchema(ctx)
}

func (s *PostgresStore) Ready(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *PostgresStore) Save(ctx context.Context, cmd SaveCommand) (SaveResult, error) {
	ctx, span := s.tracer.Start(ctx, "CommandStore.Save")
	defer span.End()
	span.SetAttributes(attribute.String("command_id", cmd.CommandID.String()))

	res, err := s.save(ctx, cmd)
	if err == nil {
		span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
		return res, nil
	}
	if !dbpool.IsUniqueViolation(err, processedCommandsPKey) {
		span.RecordError(err)
		return SaveResult{}, err
	}

	// Lost the race against a concurrent execution of the same command; its
	// record is committed by now.
	rec, found, lookupErr := s.Lookup(ctx, cmd.CommandID)
	if lookupErr != nil {
		span.RecordError(lookupErr)
		return SaveResult{}, errors.Join(err, lookupErr)
	}
	if !found {
		span.RecordError(err)
		return SaveResult{}, err
	}
	span.SetAttributes(attribute.String("outcome", OutcomeAlreadyProcessed.String()))
	return SaveResult{Outcome: OutcomeAlreadyProcessed, Record: rec}, nil
}

func (s *PostgresStore) save(ctx context.Context, cmd SaveCommand) (SaveResult, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return SaveResult{}, fmt.Errorf("begin command tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, found, err := lookup(ctx, tx, cmd.CommandID)
	if err != nil {
		return SaveResult{}, err
	}
	if found {
		return SaveResult{Outcome: OutcomeAlreadyProcessed, Record: rec}, nil
	}

	t := cmd.Todo
	if _, err := tx.Exec(ctx, insertTodoSQL,
		t.ID(),
		t.Title(),
		t.Description(),
		t.Priority().Nullable(),
		t.DueDate(),
		t.IsCompleted(),
		t.CreatedAt(),
		t.UpdatedAt(),
	); err != nil {
		return SaveResult{}, fmt.Errorf("insert todo: %w", err)
	}
	if err := outbox.Insert(ctx, tx, cmd.Event); err != nil {
		return SaveResult{}, err
	}
	if _, err := tx.Exec(ctx, insertCommandSQL,
		cmd.CommandID,
		cmd.Record.Status,
		[]byte(cmd.Record.Body),
	); err != nil {
		return SaveResult{}, fmt.Errorf("insert command record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return SaveResult{}, fmt.Errorf("commit command tx: %w", err)
	}
	return SaveResult{Outcome: OutcomeCreated, Record: cmd.Record}, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, commandID uuid.UUID) (CommandRecord, bool, error) {
	return lookup(ctx, s.Pool, commandID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lookup(ctx context.Context, q queryRower, commandID uuid.UUID) (CommandRecord, bool, error) {
	var (
		rec  CommandRecord
		body []byte
	)
	err := q.QueryRow(ctx, lookupCommandSQL, commandID).Scan(&rec.Status, &body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CommandRecord{}, false, nil
		}
		return CommandRecord{}, false, fmt.Errorf("lookup command %s: %w", commandID, err)
	}
	rec.Body = json.RawMessage(body)
	return rec, true, nil
}
