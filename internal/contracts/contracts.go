package contracts

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/todo-outbox/project/internal/domain"
)

// CommandEnvelope pairs a caller-supplied command id with an untyped payload.
type CommandEnvelope struct {
	CommandID uuid.UUID      `json:"command_id"`
	Payload   map[string]any `json:"payload"`
}

// CommandResult is what the command handler hands back to its transport.
// Body holds the serialized response exactly as first produced, so replays
// are byte-identical.
type CommandResult struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// TodoBody is the success body of a create command.
type TodoBody struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"due_date"`
	IsCompleted bool    `json:"is_completed"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func NewTodoBody(t domain.Todo) TodoBody {
	return TodoBody{
		ID:          t.ID().String(),
		Title:       t.Title(),
		Description: t.Description(),
		Priority:    t.Priority().Nullable(),
		DueDate:     domain.FormatNullableTimestamp(t.DueDate()),
		IsCompleted: t.IsCompleted(),
		CreatedAt:   domain.FormatTimestamp(t.CreatedAt()),
		UpdatedAt:   domain.FormatTimestamp(t.UpdatedAt()),
	}
}

// TodoCreatedPayload is the outbox payload of a TodoCreated event.
type TodoCreatedPayload struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"due_date"`
	CreatedAt   string  `json:"created_at"`
}

func NewTodoCreatedPayload(e domain.TodoCreated) TodoCreatedPayload {
	return TodoCreatedPayload{
		ID:          e.ID.String(),
		Title:       e.Title,
		Description: e.Description,
		Priority:    e.Priority.Nullable(),
		DueDate:     domain.FormatNullableTimestamp(e.DueDate),
		CreatedAt:   domain.FormatTimestamp(e.CreatedAt),
	}
}

// EventEnvelope is the delivery unit the outbox relay publishes and the
// projector consumes.
type EventEnvelope struct {
	EventID   uuid.UUID       `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}
