package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxTextLength bounds both title and description, counted in characters
// after trimming.
const MaxTextLength = 500

// Precision is the resolution instants are kept at, matching timestamptz.
const Precision = time.Microsecond

// Todo is the write-side aggregate. It is only ever built through
// Factory.New and exposes no mutators.
type Todo struct {
	id          uuid.UUID
	title       string
	description *string
	priority    Priority
	dueDate     *time.Time
	isCompleted bool
	createdAt   time.Time
	updatedAt   time.Time
}

type NewTodoParams struct {
	Title       string
	Description *string
	Priority    Priority
	DueDate     *time.Time
}

// Factory owns the only side effects of aggregate construction.
type Factory struct {
	Now   func() time.Time
	NewID func() uuid.UUID
}

func NewFactory() Factory {
	return Factory{
		Now:   func() time.Time { return time.Now().UTC().Truncate(Precision) },
		NewID: uuid.New,
	}
}

// NewTodo builds a todo with the default clock and id source.
func NewTodo(params NewTodoParams) (Todo, error) {
	return NewFactory().New(params)
}

func (f Factory) New(params NewTodoParams) (Todo, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Todo{}, ErrTitleRequired
	}
	if utf8.RuneCountInString(title) > MaxTextLength {
		return Todo{}, ErrTitleTooLong
	}

	var description *string
	if params.Description != nil && *params.Description != "" {
		trimmed := strings.TrimSpace(*params.Description)
		if utf8.RuneCountInString(trimmed) > MaxTextLength {
			return Todo{}, ErrDescriptionTooLong
		}
		description = &trimmed
	}

	var dueDate *time.Time
	if params.DueDate != nil {
		d := params.DueDate.UTC().Truncate(Precision)
		dueDate = &d
	}

	now := f.Now().UTC().Truncate(Precision)
	return Todo{
		id:          f.NewID(),
		title:       title,
		description: description,
		priority:    params.Priority,
		dueDate:     dueDate,
		isCompleted: false,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

func (t Todo) ID() uuid.UUID { return t.id }
func (t Todo) Title() string { return t.title }
func (t Todo) Priority() Priority { return t.priority }
func (t Todo) IsCompleted() bool { return t.isCompleted }
func (t Todo) CreatedAt() time.Time { return t.createdAt }
func (t Todo) UpdatedAt() time.Time { return t.updatedAt }

// Description returns a copy so callers cannot reach into the aggregate.
func (t Todo) Description() *string {
	if t.description == nil {
		return nil
	}
	d := *t.description
	return &d
}

func (t Todo) DueDate() *time.Time {
	if t.dueDate == nil {
		return nil
	}
	d := *t.dueDate
	return &d
}
