package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/todo-outbox/project/internal/contracts"
	"github.com/todo-outbox/project/internal/platform/logging"
	"github.com/todo-outbox/project/internal/platform/metrics"
	"github.com/todo-outbox/project/internal/sharding"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize = 100
	DefaultInterval  = 500 * time.Millisecond
)

var (
	publishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "todo_outbox_published_total",
		Help: "Outbox events published and acknowledged.",
	})
	relayErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "todo_outbox_relay_errors_total",
		Help: "Outbox relay failures by stage.",
	}, []string{"stage"})
	lastBatchSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "todo_outbox_last_batch_size",
		Help: "Number of pending rows fetched by the last poll.",
	})
)

var relayTracer = otel.Tracer("outbox/relay")

func init() {
	metrics.Default.MustRegister(publishedTotal, relayErrorsTotal, lastBatchSize)
}

type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

type Publisher interface {
	Publish(ctx context.Context, subject, msgID string, payload []byte) error
}

// Relay moves pending outbox rows to a Publisher. Delivery is at-least-once:
// a row is only marked after it was published, so a crash in between
// republishes it on the next poll.
type Relay struct {
	Store     Store
	Publisher Publisher
	Logger    *zap.Logger
	BatchSize int
	Interval  time.Duration
}

func NewRelay(store Store, publisher Publisher, logger *zap.Logger) *Relay {
	return &Relay{
		Store:     store,
		Publisher: publisher,
		Logger:    logger,
		BatchSize: DefaultBatchSize,
		Interval:  DefaultInterval,
	}
}

// Subject is where a record is published.
func Subject(rec Record) string {
	return sharding.EventSubject("todo", rec.AggregateID.String())
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another poll to drain backlogs.
func (r *Relay) Run(ctx context.Context) {
	r.Logger.Info("starting outbox relay",
		zap.Int("batch_size", r.batchSize()),
		zap.Duration("interval", r.interval()),
	)

	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("outbox relay stopping")
			return
		case <-ticker.C:
			for {
				n, err := r.RelayOnce(ctx)
				if err != nil {
					if ctx.Err() == nil {
						logging.WithTrace(ctx, r.Logger).Error("outbox relay batch failed", zap.Error(err))
					}
					break
				}
				if n < r.batchSize() {
					break
				}
			}
		}
	}
}

// RelayOnce publishes one batch and acknowledges what was published. It
// stops at the first publish failure so later rows of the same aggregate
// are never published ahead of an earlier one.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	ctx, span := relayTracer.Start(ctx, "OutboxRelay.RelayOnce")
	defer span.End()

	records, err := r.Store.FetchPending(ctx, r.batchSize())
	if err != nil {
		relayErrorsTotal.WithLabelValues("fetch").Inc()
		span.RecordError(err)
		return 0, err
	}
	lastBatchSize.Set(float64(len(records)))
	if len(records) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(records))
	var publishErr error
	for _, rec := range records {
		if err := r.publish(ctx, rec); err != nil {
			relayErrorsTotal.WithLabelValues("publish").Inc()
			publishErr = fmt.Errorf("publish outbox event %d: %w", rec.ID, err)
			break
		}
		published = append(published, rec.ID)
	}

	if len(published) > 0 {
		if err := r.Store.MarkPublished(ctx, published); err != nil {
			relayErrorsTotal.WithLabelValues("ack").Inc()
			span.RecordError(err)
			return 0, errors.Join(publishErr, err)
		}
		publishedTotal.Add(float64(len(published)))
		logging.WithTrace(ctx, r.Logger).Debug("outbox events published", zap.Int("count", len(published)))
	}

	if publishErr != nil {
		span.RecordError(publishErr)
	}
	return len(published), publishErr
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	data, err := json.Marshal(contracts.EventEnvelope{
		EventID:   rec.EventID,
		EventType: rec.EventType,
		Payload:   rec.Payload,
	})
	if err != nil {
		return err
	}
	return r.Publisher.Publish(ctx, Subject(rec), rec.EventID.String(), data)
}

func (r *Relay) batchSize() int {
	if r.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return r.BatchSize
}

func (r *Relay) interval() time.Duration {
	if r.Interval <= 0 {
		return DefaultInterval
	}
	return r.Interval
}
