package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/todo-outbox/project/internal/contracts"
	"github.com/todo-outbox/project/internal/domain"
	"github.com/todo-outbox/project/internal/platform/logging"
	"github.com/todo-outbox/project/internal/platform/metrics"
	"go.uber.org/zap"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")

var projectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "todo_projection_events_total",
	Help: "Events seen by the projector, by outcome.",
}, []string{"event_type", "outcome"})

func init() {
	metrics.Default.MustRegister(projectionsTotal)
}

type Outcome int

const (
	OutcomeApplied Outcome = iota + 1
	OutcomeAlreadyProcessed
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyProcessed:
		return "already_processed"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Row is one denormalized read-model todo.
type Row struct {
	ID          uuid.UUID
	Title       string
	Description *string
	Priority    domain.Priority
	DueDate     *time.Time
	IsCompleted bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Store interface {
	// Apply upserts row and records eventID in one transaction. It returns
	// OutcomeAlreadyProcessed without writing when eventID was seen before.
	Apply(ctx context.Context, eventID uuid.UUID, row Row) (Outcome, error)
}

type Service struct {
	Store  Store
	Logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{Store: store, Logger: logger}
}

// HandleEnvelope decodes a delivery envelope and projects it.
func (s *Service) HandleEnvelope(ctx context.Context, data []byte) (Outcome, error) {
	var env contracts.EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
	}
	if env.EventID == uuid.Nil || env.EventType == "" {
		return 0, fmt.Errorf("%w: missing event id or type", ErrInvalidEventPayload)
	}
	return s.Handle(ctx, env.EventID, env.EventType, env.Payload)
}

// Handle applies one event to the read model. Unknown event types are
// ignored.
func (s *Service) Handle(ctx context.Context, eventID uuid.UUID, eventType string, payload json.RawMessage) (Outcome, error) {
	logger := logging.WithTrace(ctx, s.Logger).With(
		zap.Stringer("event_id", eventID),
		zap.String("event_type", eventType),
	)

	switch eventType {
	case domain.EventTypeTodoCreated:
	default:
		logger.Debug("ignoring event of unknown type")
		projectionsTotal.WithLabelValues(eventType, OutcomeIgnored.String()).Inc()
		return OutcomeIgnored, nil
	}

	row, err := todoCreatedRow(payload)
	if err != nil {
		projectionsTotal.WithLabelValues(eventType, "invalid").Inc()
		return 0, err
	}

	outcome, err := s.Store.Apply(ctx, eventID, row)
	if err != nil {
		projectionsTotal.WithLabelValues(eventType, "error").Inc()
		return 0, err
	}
	projectionsTotal.WithLabelValues(eventType, outcome.String()).Inc()
	logger.Debug("event projected", zap.Stringer("outcome", outcome), zap.Stringer("todo_id", row.ID))
	return outcome, nil
}

func todoCreatedRow(payload json.RawMessage) (Row, error) {
	var p contracts.TodoCreatedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Row{}, fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return Row{}, fmt.Errorf("%w: id: %v", ErrInvalidEventPayload, err)
	}
	createdAt, err := domain.ParseTimestamp(p.CreatedAt)
	if err != nil {
		return Row{}, fmt.Errorf("%w: created_at: %v", ErrInvalidEventPayload, err)
	}
	var dueDate *time.Time
	if p.DueDate != nil && *p.DueDate != "" {
		d, err := domain.ParseTimestamp(*p.DueDate)
		if err != nil {
			return Row{}, fmt.Errorf("%w: due_date: %v", ErrInvalidEventPayload, err)
		}
		dueDate = &d
	}
	priority, err := domain.PriorityFromNullable(p.Priority)
	if err != nil {
		return Row{}, fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
	}

	return Row{
		ID:          id,
		Title:       p.Title,
		Description: p.Description,
		Priority:    priority,
		DueDate:     dueDate,
		IsCompleted: false,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}
