package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/todo-outbox/project/internal/platform/metrics"
	"go.uber.org/zap"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_loadgen_requests_total",
		Help: "HTTP requests sent by the load generator.",
	}, []string{"action", "status"})

	replayChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_loadgen_replay_checks_total",
		Help: "Duplicate submissions compared with their first response.",
	}, []string{"result"})

	activeClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "todo_loadgen_active_clients",
		Help: "Virtual clients currently sending commands.",
	})

	requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "todo_loadgen_request_duration_seconds",
		Help:    "Command API latency seen by the load generator.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, replayChecksTotal, activeClients, requestLatency)
}

var priorities = []any{nil, "Low", "Medium", "High"}

type submission struct {
	commandID uuid.UUID
	status    int
	body      []byte
}

type runner struct {
	commandBase    string
	duplicateRatio float64
	client         *http.Client
	logger         *zap.Logger

	created    atomic.Int64
	replayed   atomic.Int64
	mismatches atomic.Int64
	failures   atomic.Int64
}

// history holds the submissions a virtual client may replay later.
type history struct {
	mu   sync.Mutex
	subs []submission
}

func (h *history) add(s submission) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, s)
}

func (h *history) pick(rng *rand.Rand) (submission, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return submission{}, false
	}
	return h.subs[rng.Intn(len(h.subs))], true
}

func (r *runner) runClient(ctx context.Context, idx int, interval time.Duration) {
	activeClients.Inc()
	defer activeClients.Dec()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx*7)))
	var past history

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.step(ctx, rng, &past)
		}
	}
}

func (r *runner) step(ctx context.Context, rng *rand.Rand, past *history) {
	if prev, ok := past.pick(rng); ok && rng.Float64() < r.duplicateRatio {
		_ = r.replay(ctx, prev, randomPayload(rng))
		return
	}
	sub, err := r.create(ctx, uuid.New(), randomPayload(rng))
	if err != nil {
		return
	}
	past.add(sub)
}

func randomPayload(rng *rand.Rand) map[string]any {
	payload := map[string]any{
		"title":    fmt.Sprintf("Load todo %d", rng.Intn(1_000_000)),
		"priority": priorities[rng.Intn(len(priorities))],
	}
	if rng.Intn(2) == 0 {
		payload["description"] = "generated"
	}
	if rng.Intn(3) == 0 {
		payload["due_date"] = time.Now().UTC().Add(time.Duration(rng.Intn(72)) * time.Hour).Format(time.RFC3339)
	}
	return payload
}

func (r *runner) create(ctx context.Context, commandID uuid.UUID, payload map[string]any) (submission, error) {
	status, body, err := r.post(ctx, "create", commandID, payload)
	if err != nil {
		return submission{}, err
	}
	if status != http.StatusCreated {
		r.failures.Add(1)
		return submission{}, fmt.Errorf("unexpected status %d", status)
	}
	r.created.Add(1)
	return submission{commandID: commandID, status: status, body: body}, nil
}

// replay re-submits prev's command id with another payload. The command API
// must answer with the first response byte for byte.
func (r *runner) replay(ctx context.Context, prev submission, payload map[string]any) error {
	status, body, err := r.post(ctx, "replay", prev.commandID, payload)
	if err != nil {
		return err
	}
	r.replayed.Add(1)
	if status != prev.status || !bytes.Equal(body, prev.body) {
		r.mismatches.Add(1)
		replayChecksTotal.WithLabelValues("mismatch").Inc()
		r.logger.Error("replayed command returned a different response",
			zap.Stringer("command_id", prev.commandID),
			zap.Int("first_status", prev.status),
			zap.Int("replay_status", status),
		)
		return fmt.Errorf("replay of %s diverged", prev.commandID)
	}
	replayChecksTotal.WithLabelValues("match").Inc()
	return nil
}

func (r *runner) post(ctx context.Context, action string, commandID uuid.UUID, payload map[string]any) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.commandBase+"/api/v1/todos", bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Command-ID", commandID.String())

	start := time.Now()
	resp, err := r.client.Do(req)
	requestLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			r.failures.Add(1)
			requestsTotal.WithLabelValues(action, "0").Inc()
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	requestsTotal.WithLabelValues(action, strconv.Itoa(resp.StatusCode)).Inc()
	if err != nil {
		r.failures.Add(1)
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (r *runner) waitReady(ctx context.Context, readyURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, readyURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		r.logger.Info("waiting for dependency", zap.String("url", readyURL), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.Info("progress",
				zap.Int64("created", r.created.Load()),
				zap.Int64("replayed", r.replayed.Load()),
				zap.Int64("mismatches", r.mismatches.Load()),
				zap.Int64("errors", r.failures.Load()),
			)
		}
	}
}
