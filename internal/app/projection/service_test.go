package projection

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todo-outbox/project/internal/contracts"
	"github.com/todo-outbox/project/internal/domain"
	"go.uber.org/zap"
)

type fakeStore struct {
	rows      map[uuid.UUID]Row
	processed map[uuid.UUID]bool
	applies   int
	err       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[uuid.UUID]Row{}, processed: map[uuid.UUID]bool{}}
}

func (f *fakeStore) Apply(_ context.Context, eventID uuid.UUID, row Row) (Outcome, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.processed[eventID] {
		return OutcomeAlreadyProcessed, nil
	}
	f.applies++
	f.rows[row.ID] = row
	f.processed[eventID] = true
	return OutcomeApplied, nil
}

func createdPayload(t *testing.T, id uuid.UUID, title string) json.RawMessage {
	t.Helper()
	due := "2026-04-01T12:00:00Z"
	priority := "High"
	data, err := json.Marshal(contracts.TodoCreatedPayload{
		ID:        id.String(),
		Title:     title,
		Priority:  &priority,
		DueDate:   &due,
		CreatedAt: "2026-03-01T09:30:00.123456Z",
	})
	require.NoError(t, err)
	return data
}

func TestHandle_TodoCreatedProjectsRow(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, zap.NewNop())
	todoID := uuid.New()

	outcome, err := svc.Handle(context.Background(), uuid.New(), domain.EventTypeTodoCreated, createdPayload(t, todoID, "Buy milk"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	row, ok := store.rows[todoID]
	require.True(t, ok)
	assert.Equal(t, "Buy milk", row.Title)
	assert.Equal(t, domain.PriorityHigh, row.Priority)
	assert.False(t, row.IsCompleted)
	assert.Nil(t, row.Description)
	require.NotNil(t, row.DueDate)
	assert.True(t, row.DueDate.Equal(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)))
	assert.True(t, row.CreatedAt.Equal(time.Date(2026, 3, 1, 9, 30, 0, 123456000, time.UTC)))
	assert.Equal(t, row.CreatedAt, row.UpdatedAt)
}

func TestHandle_SameEventTwiceAppliesOnce(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, zap.NewNop())
	eventID := uuid.New()
	payload := createdPayload(t, uuid.New(), "Once")

	first, err := svc.Handle(context.Background(), eventID, domain.EventTypeTodoCreated, payload)
	require.NoError(t, err)
	second, err := svc.Handle(context.Background(), eventID, domain.EventTypeTodoCreated, payload)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, first)
	assert.Equal(t, OutcomeAlreadyProcessed, second)
	assert.Equal(t, 1, store.applies)
	assert.Len(t, store.rows, 1)
}

func TestHandle_UnknownEventTypeIgnored(t *testing.T) {
	store := newFakeStore()
	outcome, err := NewService(store, zap.NewNop()).Handle(context.Background(), uuid.New(), "TodoArchived", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Zero(t, store.applies)
}

func TestHandle_InvalidPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{invalid`},
		{"bad id", `{"id":"nope","title":"t","created_at":"2026-03-01T09:30:00Z"}`},
		{"bad created_at", `{"id":"` + uuid.NewString() + `","title":"t","created_at":"yesterday"}`},
		{"bad due_date", `{"id":"` + uuid.NewString() + `","title":"t","due_date":"soon","created_at":"2026-03-01T09:30:00Z"}`},
		{"bad priority", `{"id":"` + uuid.NewString() + `","title":"t","priority":"Urgent","created_at":"2026-03-01T09:30:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			_, err := NewService(store, zap.NewNop()).Handle(context.Background(), uuid.New(), domain.EventTypeTodoCreated, json.RawMessage(tt.payload))
			assert.ErrorIs(t, err, ErrInvalidEventPayload)
			assert.Zero(t, store.applies)
		})
	}
}

func TestHandle_StoreFailurePropagates(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("deadlock detected")
	_, err := NewService(store, zap.NewNop()).Handle(context.Background(), uuid.New(), domain.EventTypeTodoCreated, createdPayload(t, uuid.New(), "x"))
	assert.EqualError(t, err, "deadlock detected")
}

func TestHandleEnvelope(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, zap.NewNop())
	todoID := uuid.New()

	data, err := json.Marshal(contracts.EventEnvelope{
		EventID:   uuid.New(),
		EventType: domain.EventTypeTodoCreated,
		Payload:   createdPayload(t, todoID, "From the wire"),
	})
	require.NoError(t, err)

	outcome, err := svc.HandleEnvelope(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, "From the wire", store.rows[todoID].Title)

	_, err = svc.HandleEnvelope(context.Background(), []byte(`{"event_type":"TodoCreated","payload":{}}`))
	assert.ErrorIs(t, err, ErrInvalidEventPayload)

	_, err = svc.HandleEnvelope(context.Background(), []byte(`garbage`))
	assert.ErrorIs(t, err, ErrInvalidEventPayload)
}
