package domain

import (
	"time"

	"github.com/google/uuid"
)

const EventTypeTodoCreated = "TodoCreated"

// TodoCreated is the creation snapshot written to the outbox alongside the
// aggregate.
type TodoCreated struct {
	ID          uuid.UUID
	Title       string
	Description *string
	Priority    Priority
	DueDate     *time.Time
	CreatedAt   time.Time
}

func NewTodoCreated(t Todo) TodoCreated {
	return TodoCreated{
		ID:          t.ID(),
		Title:       t.Title(),
		Description: t.Description(),
		Priority:    t.Priority(),
		DueDate:     t.DueDate(),
		CreatedAt:   t.CreatedAt(),
	}
}

func (TodoCreated) EventType() string {
	return EventTypeTodoCreated
}
