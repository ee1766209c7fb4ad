package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event is a domain event waiting to be written to the outbox.
type Event struct {
	EventID     uuid.UUID
	AggregateID uuid.UUID
	EventType   string
	Payload     json.RawMessage
}

// Record is a stored outbox row.
type Record struct {
	ID int64
	Event
	CreatedAt   time.Time
	PublishedAt *time.Time
}

const createOutboxTableSQL = `
CREATE TABLE IF NOT EXISTS outbox (
  id bigserial PRIMARY KEY,
  event_id uuid NOT NULL UNIQUE,
  aggregate_id uuid NOT NULL,
  event_type text NOT NULL,
  payload json NOT NULL,
  created_at timestamptz NOT NULL DEFAULT now(),
  published_at timestamptz
)`

const createOutboxPendingIndexSQL = `
CREATE INDEX IF NOT EXISTS outbox_pending_idx
ON outbox (id)
WHERE published_at IS NULL`

const insertEventSQL = `
INSERT INTO outbox (event_id, aggregate_id, event_type, payload)
VALUES ($1, $2, $3, $4)
`

const fetchPendingSQL = `
SELECT id, event_id, aggregate_id, event_type, payload, created_at
FROM outbox
WHERE published_at IS NULL
ORDER BY id ASC
LIMIT $1
`

const markPublishedSQL = `
UPDATE outbox
SET published_at = now()
WHERE id = ANY($1) AND published_at IS NULL
`

type PostgresStore struct {
	Pool   *pgxpool.Pool
	tracer trace.Tracer
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		Pool:   pool,
		tracer: otel.Tracer("outbox/store"),
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, createOutboxTableSQL); err != nil {
		return err
	}
	if _, err := s.Pool.Exec(ctx, createOutboxPendingIndexSQL); err != nil {
		return err
	}
	return nil
}

// Insert appends event inside the caller's transaction. The outbox row
// commits or rolls back together with the state change it describes.
func Insert(ctx context.Context, tx pgx.Tx, event Event) error {
	if _, err := tx.Exec(ctx, insertEventSQL,
		event.EventID,
		event.AggregateID,
		event.EventType,
		[]byte(event.Payload),
	); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// FetchPending returns up to limit unpublished rows in insertion order.
func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	ctx, span := s.tracer.Start(ctx, "OutboxStore.FetchPending")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", limit))

	rows, err := s.Pool.Query(ctx, fetchPendingSQL, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query pending outbox events: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec     Record
			payload []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.AggregateID,
			&rec.EventType,
			&payload,
			&rec.CreatedAt,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(records)))
	return records, nil
}

// MarkPublished stamps published_at for ids in a single statement.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "OutboxStore.MarkPublished")
	defer span.End()
	span.SetAttributes(attribute.Int("count", len(ids)))

	if _, err := s.Pool.Exec(ctx, markPublishedSQL, ids); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark outbox events published: %w", err)
	}
	return nil
}
