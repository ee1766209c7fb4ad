package messaging

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	EventsStream   = "TODO_EVENTS"
	EventsSubjects = "app.event.>"

	// duplicateWindow is how long JetStream remembers Nats-Msg-Id values, so
	// a relay that republishes after a crash within the window is deduped at
	// the broker before the projector ever sees it.
	duplicateWindow = 2 * time.Minute
)

// EnsureStreams creates (or validates) the event stream fed by the outbox
// relay.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(EventsStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:       EventsStream,
			Subjects:   []string{EventsSubjects},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: duplicateWindow,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}
