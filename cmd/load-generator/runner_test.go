package main

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/todo-outbox/project/internal/app/commandapi"
	"github.com/todo-outbox/project/internal/store/memory"
	"go.uber.org/zap"
)

func newTestRunner(base string) *runner {
	return &runner{
		commandBase:    base,
		duplicateRatio: 1,
		client:         http.DefaultClient,
		logger:         zap.NewNop(),
	}
}

func TestRunner_ReplayMatchesAgainstCommandAPI(t *testing.T) {
	store := memory.NewWriteStore()
	api := commandapi.NewHandler(commandapi.NewService(store, zap.NewNop()), nil, zap.NewNop(), "")
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	r := newTestRunner(srv.URL)
	rng := rand.New(rand.NewSource(1))

	sub, err := r.create(context.Background(), uuid.New(), randomPayload(rng))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, sub.status)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.replay(context.Background(), sub, randomPayload(rng)))
	}
	assert.EqualValues(t, 1, r.created.Load())
	assert.EqualValues(t, 5, r.replayed.Load())
	assert.Zero(t, r.mismatches.Load())
	assert.Len(t, store.Todos(), 1)
}

func TestRunner_DetectsDivergentReplay(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if n == 1 {
			_, _ = w.Write([]byte(`{"id":"first"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"second"}`))
	}))
	defer srv.Close()

	r := newTestRunner(srv.URL)
	sub, err := r.create(context.Background(), uuid.New(), map[string]any{"title": "x"})
	require.NoError(t, err)

	assert.Error(t, r.replay(context.Background(), sub, map[string]any{"title": "y"}))
	assert.EqualValues(t, 1, r.mismatches.Load())
}

func TestRunner_StepReplaysOnlyKnownCommands(t *testing.T) {
	store := memory.NewWriteStore()
	api := commandapi.NewHandler(commandapi.NewService(store, zap.NewNop()), nil, zap.NewNop(), "")
	srv := httptest.NewServer(api.Router())
	defer srv.Close()

	r := newTestRunner(srv.URL)
	rng := rand.New(rand.NewSource(7))
	var past history
	for i := 0; i < 10; i++ {
		r.step(context.Background(), rng, &past)
	}

	// With an empty history the first step must create; every later step
	// replays because the ratio is 1.
	assert.EqualValues(t, 1, r.created.Load())
	assert.EqualValues(t, 9, r.replayed.Load())
	assert.Zero(t, r.mismatches.Load())
}
