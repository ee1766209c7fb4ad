package commandapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
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
	mu        sync.Mutex
	records   map[uuid.UUID]CommandRecord
	saved     []SaveCommand
	saveErr   error
	lookupErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[uuid.UUID]CommandRecord{}}
}

func (f *fakeStore) Save(_ context.Context, cmd SaveCommand) (SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return SaveResult{}, f.saveErr
	}
	if rec, ok := f.records[cmd.CommandID]; ok {
		return SaveResult{Outcome: OutcomeAlreadyProcessed, Record: rec}, nil
	}
	f.records[cmd.CommandID] = cmd.Record
	f.saved = append(f.saved, cmd)
	return SaveResult{Outcome: OutcomeCreated, Record: cmd.Record}, nil
}

func (f *fakeStore) Lookup(_ context.Context, commandID uuid.UUID) (CommandRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return CommandRecord{}, false, f.lookupErr
	}
	rec, ok := f.records[commandID]
	return rec, ok, nil
}

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestService(store TodoStore) *Service {
	svc := NewService(store, zap.NewNop())
	svc.Todos.Now = func() time.Time { return fixedNow }
	return svc
}

func TestHandle_CreatesTodoEventAndRecord(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	commandID := uuid.New()

	res := svc.Handle(context.Background(), contracts.CommandEnvelope{
		CommandID: commandID,
		Payload: map[string]any{
			"title":       "  Buy milk ",
			"description": " 2 litres ",
			"priority":    "Medium",
			"due_date":    "2026-03-02T10:00:00+02:00",
		},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	require.Empty(t, res.Error)
	require.Len(t, store.saved, 1)

	var body contracts.TodoBody
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.Equal(t, "Buy milk", body.Title)
	require.NotNil(t, body.Description)
	assert.Equal(t, "2 litres", *body.Description)
	require.NotNil(t, body.Priority)
	assert.Equal(t, "Medium", *body.Priority)
	require.NotNil(t, body.DueDate)
	assert.Equal(t, "2026-03-02T08:00:00Z", *body.DueDate)
	assert.False(t, body.IsCompleted)
	assert.Equal(t, "2026-03-01T09:30:00Z", body.CreatedAt)
	assert.Equal(t, body.CreatedAt, body.UpdatedAt)

	saved := store.saved[0]
	assert.Equal(t, commandID, saved.CommandID)
	assert.Equal(t, saved.Todo.ID(), saved.Event.AggregateID)
	assert.Equal(t, domain.EventTypeTodoCreated, saved.Event.EventType)
	assert.NotEqual(t, uuid.Nil, saved.Event.EventID)
	assert.Equal(t, http.StatusCreated, saved.Record.Status)
	assert.JSONEq(t, string(res.Body), string(saved.Record.Body))

	var payload contracts.TodoCreatedPayload
	require.NoError(t, json.Unmarshal(saved.Event.Payload, &payload))
	assert.Equal(t, body.ID, payload.ID)
	assert.Equal(t, "Buy milk", payload.Title)
	assert.Equal(t, body.CreatedAt, payload.CreatedAt)
	assert.Equal(t, body.DueDate, payload.DueDate)
}

func TestHandle_DuplicateCommandReturnsFirstResult(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	commandID := uuid.New()

	first := svc.Handle(context.Background(), contracts.CommandEnvelope{
		CommandID: commandID,
		Payload:   map[string]any{"title": "First"},
	})
	require.Equal(t, http.StatusCreated, first.StatusCode)

	payloads := []map[string]any{
		{"title": "Second", "priority": "High"},
		{"title": ""},
		{"title": "x", "priority": "Urgent"},
	}
	for _, p := range payloads {
		again := svc.Handle(context.Background(), contracts.CommandEnvelope{CommandID: commandID, Payload: p})
		assert.Equal(t, first.StatusCode, again.StatusCode)
		assert.Equal(t, string(first.Body), string(again.Body))
	}
	assert.Len(t, store.saved, 1)
}

func TestHandle_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		wantMsg string
	}{
		{"missing title", map[string]any{}, "title required"},
		{"blank title", map[string]any{"title": "   "}, "title required"},
		{"long title", map[string]any{"title": strings.Repeat("a", 501)}, "title too long"},
		{"long description", map[string]any{"title": "t", "description": strings.Repeat("d", 501)}, "description too long"},
		{"unknown priority", map[string]any{"title": "t", "priority": "Urgent"}, "invalid priority: Urgent. Must be one of Low, Medium, High"},
		{"numeric priority", map[string]any{"title": "t", "priority": float64(3)}, "invalid priority: 3. Must be one of Low, Medium, High"},
		{"bad due date", map[string]any{"title": "t", "due_date": "tomorrow"}, "due_date must be a valid ISO-8601 string"},
		{"numeric due date", map[string]any{"title": "t", "due_date": float64(1)}, "due_date must be a valid ISO-8601 string"},
		{"numeric title", map[string]any{"title": float64(1)}, "title must be a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			res := newTestService(store).Handle(context.Background(), contracts.CommandEnvelope{
				CommandID: uuid.New(),
				Payload:   tt.payload,
			})
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
			assert.Equal(t, tt.wantMsg, res.Error)
			assert.Empty(t, res.Body)
			assert.Empty(t, store.saved)
			assert.Empty(t, store.records)
		})
	}
}

func TestHandle_OptionalFieldsDefaultToNull(t *testing.T) {
	store := newFakeStore()
	res := newTestService(store).Handle(context.Background(), contracts.CommandEnvelope{
		CommandID: uuid.New(),
		Payload:   map[string]any{"title": "Only title", "priority": nil, "due_date": nil},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Contains(t, string(res.Body), `"description":null`)
	assert.Contains(t, string(res.Body), `"priority":null`)
	assert.Contains(t, string(res.Body), `"due_date":null`)
}

func TestHandle_EmptyDescriptionIsNull(t *testing.T) {
	store := newFakeStore()
	res := newTestService(store).Handle(context.Background(), contracts.CommandEnvelope{
		CommandID: uuid.New(),
		Payload:   map[string]any{"title": "t", "description": ""},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Contains(t, string(res.Body), `"description":null`)
}

func TestHandle_ReplayReturnsStoredBodyVerbatim(t *testing.T) {
	store := newFakeStore()
	commandID := uuid.New()
	stored := json.RawMessage(`{"id":"x","title":"kept"}`)
	store.records[commandID] = CommandRecord{Status: http.StatusCreated, Body: stored}

	res := newTestService(store).Handle(context.Background(), contracts.CommandEnvelope{
		CommandID: commandID,
		Payload:   map[string]any{"title": "ignored"},
	})
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, string(stored), string(res.Body))
	assert.Empty(t, res.Error)
}

func TestHandle_PersistenceFailureIsGeneric(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("dial tcp 10.0.0.5:5432: connection refused")

	res := newTestService(store).Handle(context.Background(), contracts.CommandEnvelope{
		CommandID: uuid.New(),
		Payload:   map[string]any{"title": "Buy milk"},
	})
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "internal server error", res.Error)
	assert.NotContains(t, res.Error, "10.0.0.5")
}

func TestHandle_LookupFailureKeepsValidationError(t *testing.T) {
	store := newFakeStore()
	store.lookupErr = errors.New("timeout")

	res := newTestService(store).Handle(context.Background(), contracts.CommandEnvelope{
		CommandID: uuid.New(),
		Payload:   map[string]any{"title": ""},
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "title required", res.Error)
}

func TestHandle_DistinctCommandsRunConcurrently(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := svc.Handle(context.Background(), contracts.CommandEnvelope{
				CommandID: uuid.New(),
				Payload:   map[string]any{"title": "parallel"},
			})
			assert.Equal(t, http.StatusCreated, res.StatusCode)
		}()
	}
	wg.Wait()
	assert.Len(t, store.saved, 32)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "created", OutcomeCreated.String())
	assert.Equal(t, "already_processed", OutcomeAlreadyProcessed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
