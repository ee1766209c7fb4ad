// Package memory holds in-process implementations of the write, outbox and
// read-model stores. They keep the uniqueness and all-or-nothing guarantees
// of the Postgres stores and are meant for tests and local runs.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/todo-outbox/project/internal/app/commandapi"
	"github.com/todo-outbox/project/internal/app/outbox"
	"github.com/todo-outbox/project/internal/app/projection"
	"github.com/todo-outbox/project/internal/app/query"
	"github.com/todo-outbox/project/internal/domain"
)

// WriteStore is the write database: todos, processed commands and the
// outbox.
type WriteStore struct {
	mu       sync.Mutex
	todos    map[uuid.UUID]domain.Todo
	commands map[uuid.UUID]commandapi.CommandRecord
	outbox   []outbox.Record
	eventIDs map[uuid.UUID]struct{}
	nextID   int64
	now      func() time.Time

	// SaveErr, when set, fails every Save before anything is written.
	SaveErr error
}

func NewWriteStore() *WriteStore {
	return &WriteStore{
		todos:    map[uuid.UUID]domain.Todo{},
		commands: map[uuid.UUID]commandapi.CommandRecord{},
		eventIDs: map[uuid.UUID]struct{}{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *WriteStore) Save(_ context.Context, cmd commandapi.SaveCommand) (commandapi.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return commandapi.SaveResult{}, s.SaveErr
	}
	if rec, ok := s.commands[cmd.CommandID]; ok {
		return commandapi.SaveResult{Outcome: commandapi.OutcomeAlreadyProcessed, Record: rec}, nil
	}
	if _, ok := s.todos[cmd.Todo.ID()]; ok {
		return commandapi.SaveResult{}, errDuplicateKey("todos_pkey")
	}
	if _, ok := s.eventIDs[cmd.Event.EventID]; ok {
		return commandapi.SaveResult{}, errDuplicateKey("outbox_event_id_key")
	}

	s.todos[cmd.Todo.ID()] = cmd.Todo
	s.nextID++
	s.outbox = append(s.outbox, outbox.Record{
		ID:        s.nextID,
		Event:     cmd.Event,
		CreatedAt: s.now(),
	})
	s.eventIDs[cmd.Event.EventID] = struct{}{}
	s.commands[cmd.CommandID] = commandapi.CommandRecord{
		Status: cmd.Record.Status,
		Body:   append([]byte(nil), cmd.Record.Body...),
	}
	return commandapi.SaveResult{Outcome: commandapi.OutcomeCreated, Record: cmd.Record}, nil
}

func (s *WriteStore) Lookup(_ context.Context, commandID uuid.UUID) (commandapi.CommandRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.commands[commandID]
	return rec, ok, nil
}

func (s *WriteStore) FetchPending(_ context.Context, limit int) ([]outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]outbox.Record, 0, limit)
	for _, rec := range s.outbox {
		if len(out) == limit {
			break
		}
		if rec.PublishedAt == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *WriteStore) MarkPublished(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		marked[id] = struct{}{}
	}
	now := s.now()
	for i := range s.outbox {
		if _, ok := marked[s.outbox[i].ID]; ok && s.outbox[i].PublishedAt == nil {
			ts := now
			s.outbox[i].PublishedAt = &ts
		}
	}
	return nil
}

// Todos returns the stored aggregates.
func (s *WriteStore) Todos() []domain.Todo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Todo, 0, len(s.todos))
	for _, t := range s.todos {
		out = append(out, t)
	}
	return out
}

// Outbox returns every outbox row, published or not, in insertion order.
func (s *WriteStore) Outbox() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Record(nil), s.outbox...)
}

func (s *WriteStore) CommandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

// ReadStore is the read database: projected todos and processed events.
type ReadStore struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]projection.Row
	processed map[uuid.UUID]struct{}

	// ApplyErr, when set, fails every Apply before anything is written.
	ApplyErr error
}

func NewReadStore() *ReadStore {
	return &ReadStore{
		rows:      map[uuid.UUID]projection.Row{},
		processed: map[uuid.UUID]struct{}{},
	}
}

func (s *ReadStore) Apply(_ context.Context, eventID uuid.UUID, row projection.Row) (projection.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ApplyErr != nil {
		return 0, s.ApplyErr
	}
	if _, ok := s.processed[eventID]; ok {
		return projection.OutcomeAlreadyProcessed, nil
	}
	if existing, ok := s.rows[row.ID]; ok {
		row.CreatedAt = existing.CreatedAt
	}
	s.rows[row.ID] = row
	s.processed[eventID] = struct{}{}
	return projection.OutcomeApplied, nil
}

func (s *ReadStore) ListTodos(_ context.Context, q query.ListTodosQuery) ([]projection.Row, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed, filtered := q.Completed()
	matched := make([]projection.Row, 0, len(s.rows))
	for _, row := range s.rows {
		if filtered && row.IsCompleted != completed {
			continue
		}
		matched = append(matched, row)
	}

	desc := q.Order == query.OrderDesc
	sort.Slice(matched, func(i, j int) bool {
		if c := compareRows(matched[i], matched[j], q.Sort, desc); c != 0 {
			return c < 0
		}
		return bytes.Compare(matched[i].ID[:], matched[j].ID[:]) < 0
	})

	total := len(matched)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return append([]projection.Row(nil), matched[start:end]...), total, nil
}

func (s *ReadStore) GetTodoByID(_ context.Context, id uuid.UUID) (projection.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return projection.Row{}, query.ErrTodoNotFound
	}
	return row, nil
}

func (s *ReadStore) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// compareRows orders by the sort key the way Postgres does: NULLs sort as
// larger than any value, so they come last ascending and first descending.
func compareRows(a, b projection.Row, sortKey string, desc bool) int {
	var c int
	switch sortKey {
	case query.SortDueDate:
		c = compareNullableTime(a.DueDate, b.DueDate)
	default:
		c = a.CreatedAt.Compare(b.CreatedAt)
	}
	if desc {
		return -c
	}
	return c
}

func compareNullableTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	default:
		return a.Compare(*b)
	}
}

type duplicateKeyError struct {
	constraint string
}

func (e *duplicateKeyError) Error() string {
	return "duplicate key value violates unique constraint " + e.constraint
}

func errDuplicateKey(constraint string) error {
	return &duplicateKeyError{constraint: constraint}
}
