package commandapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/todo-outbox/project/internal/app/outbox"
	"github.com/todo-outbox/project/internal/contracts"
	"github.com/todo-outbox/project/internal/domain"
	"github.com/todo-outbox/project/internal/platform/logging"
	"github.com/todo-outbox/project/internal/platform/metrics"
	"go.uber.org/zap"
)

const internalErrorMessage = "internal server error"

var commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "todo_commands_total",
	Help: "Create-todo commands handled, by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(commandsTotal)
}

// Outcome tells whether Save wrote anything.
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeAlreadyProcessed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// CommandRecord is the stored result of the first execution of a command.
type CommandRecord struct {
	Status int
	Body   json.RawMessage
}

// SaveCommand is everything one create command writes atomically.
type SaveCommand struct {
	CommandID uuid.UUID
	Todo      domain.Todo
	Event     outbox.Event
	Record    CommandRecord
}

// SaveResult carries the record to answer with. On OutcomeAlreadyProcessed it
// is the previously stored one.
type SaveResult struct {
	Outcome Outcome
	Record  CommandRecord
}

type TodoStore interface {
	// Save persists the todo, its outbox event and the command record in one
	// transaction unless the command id was already processed.
	Save(ctx context.Context, cmd SaveCommand) (SaveResult, error)
	Lookup(ctx context.Context, commandID uuid.UUID) (CommandRecord, bool, error)
}

type Service struct {
	Store  TodoStore
	Todos  domain.Factory
	NewID  func() uuid.UUID
	Logger *zap.Logger
}

func NewService(store TodoStore, logger *zap.Logger) *Service {
	return &Service{
		Store:  store,
		Todos:  domain.NewFactory(),
		NewID:  uuid.New,
		Logger: logger,
	}
}

// Handle executes a create-todo command. It never returns an error: every
// failure is mapped to a result the transport writes as is.
func (s *Service) Handle(ctx context.Context, cmd contracts.CommandEnvelope) contracts.CommandResult {
	logger := logging.WithTrace(ctx, s.Logger).With(zap.Stringer("command_id", cmd.CommandID))

	params, err := parsePayload(cmd.Payload)
	if err == nil {
		var todo domain.Todo
		todo, err = s.Todos.New(params)
		if err == nil {
			return s.save(ctx, logger, cmd.CommandID, todo)
		}
	}
	if !domain.IsValidation(err) {
		logger.Error("create todo failed", zap.Error(err))
		commandsTotal.WithLabelValues("error").Inc()
		return contracts.CommandResult{StatusCode: http.StatusInternalServerError, Error: internalErrorMessage}
	}

	// A replayed command answers with its first result whatever the payload.
	rec, found, lookupErr := s.Store.Lookup(ctx, cmd.CommandID)
	if lookupErr != nil {
		logger.Warn("command lookup failed", zap.Error(lookupErr))
	}
	if found {
		commandsTotal.WithLabelValues(OutcomeAlreadyProcessed.String()).Inc()
		return recordResult(rec)
	}
	commandsTotal.WithLabelValues("invalid").Inc()
	return contracts.CommandResult{StatusCode: http.StatusBadRequest, Error: err.Error()}
}

func (s *Service) save(ctx context.Context, logger *zap.Logger, commandID uuid.UUID, todo domain.Todo) contracts.CommandResult {
	event := domain.NewTodoCreated(todo)
	payload, err := json.Marshal(contracts.NewTodoCreatedPayload(event))
	if err != nil {
		logger.Error("encode todo created payload", zap.Error(err))
		commandsTotal.WithLabelValues("error").Inc()
		return contracts.CommandResult{StatusCode: http.StatusInternalServerError, Error: internalErrorMessage}
	}
	body, err := json.Marshal(contracts.NewTodoBody(todo))
	if err != nil {
		logger.Error("encode todo body", zap.Error(err))
		commandsTotal.WithLabelValues("error").Inc()
		return contracts.CommandResult{StatusCode: http.StatusInternalServerError, Error: internalErrorMessage}
	}

	res, err := s.Store.Save(ctx, SaveCommand{
		CommandID: commandID,
		Todo:      todo,
		Event: outbox.Event{
			EventID:     s.NewID(),
			AggregateID: todo.ID(),
			EventType:   event.EventType(),
			Payload:     payload,
		},
		Record: CommandRecord{Status: http.StatusCreated, Body: body},
	})
	if err != nil {
		logger.Error("persist create todo command", zap.Error(err))
		commandsTotal.WithLabelValues("error").Inc()
		return contracts.CommandResult{StatusCode: http.StatusInternalServerError, Error: internalErrorMessage}
	}

	commandsTotal.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == OutcomeCreated {
		logger.Info("todo created", zap.Stringer("todo_id", todo.ID()))
	} else {
		logger.Info("command already processed")
	}
	return recordResult(res.Record)
}

// recordResult replays a stored command record. Only successful commands
// are recorded.
func recordResult(rec CommandRecord) contracts.CommandResult {
	return contracts.CommandResult{StatusCode: rec.Status, Body: rec.Body}
}

func parsePayload(payload map[string]any) (domain.NewTodoParams, error) {
	var params domain.NewTodoParams

	switch v := payload["title"].(type) {
	case nil:
	case string:
		params.Title = v
	default:
		return params, domain.ErrTitleNotString
	}

	switch v := payload["description"].(type) {
	case nil:
	case string:
		params.Description = &v
	default:
		return params, domain.ErrDescriptionNotString
	}

	switch v := payload["priority"].(type) {
	case nil:
	case string:
		p, err := domain.ParsePriority(v)
		if err != nil {
			return params, err
		}
		params.Priority = p
	default:
		_, err := domain.ParsePriority(fmt.Sprint(v))
		return params, err
	}

	switch v := payload["due_date"].(type) {
	case nil:
	case string:
		t, err := domain.ParseTimestamp(v)
		if err != nil {
			return params, err
		}
		params.DueDate = &t
	default:
		return params, domain.ErrInvalidDueDate
	}

	return params, nil
}
