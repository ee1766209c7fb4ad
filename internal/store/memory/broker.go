package memory

import (
	"context"
	"sync"
)

// Message is one publish accepted by Broker.
type Message struct {
	Subject string
	MsgID   string
	Data    []byte
}

// Broker records publishes in order. Like a JetStream stream it drops a
// message whose MsgID was already accepted unless Dedupe is off.
type Broker struct {
	mu       sync.Mutex
	messages []Message
	seen     map[string]struct{}
	next     int

	Dedupe bool
	// FailNext, when positive, fails that many upcoming publishes.
	FailNext int
	Err      error
}

func NewBroker() *Broker {
	return &Broker{seen: map[string]struct{}{}, Dedupe: true}
}

func (b *Broker) Publish(_ context.Context, subject, msgID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.FailNext > 0 {
		b.FailNext--
		return b.Err
	}
	if b.Dedupe {
		if _, ok := b.seen[msgID]; ok {
			return nil
		}
		b.seen[msgID] = struct{}{}
	}
	b.messages = append(b.messages, Message{
		Subject: subject,
		MsgID:   msgID,
		Data:    append([]byte(nil), payload...),
	})
	return nil
}

func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// Drain hands every not yet drained message to handle in publish order and
// stops at the first error, leaving that message for the next call.
func (b *Broker) Drain(ctx context.Context, handle func(context.Context, Message) error) error {
	for {
		b.mu.Lock()
		if b.next >= len(b.messages) {
			b.mu.Unlock()
			return nil
		}
		msg := b.messages[b.next]
		b.mu.Unlock()

		if err := handle(ctx, msg); err != nil {
			return err
		}

		b.mu.Lock()
		b.next++
		b.mu.Unlock()
	}
}
