package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryBus fans out to in-process subscribers. Used for single-instance
// deployments and tests; carries no cross-process delivery.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]chan []byte
	logger logrus.FieldLogger
}

// NewMemoryBus creates an in-process Bus.
func NewMemoryBus(logger logrus.FieldLogger) *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan []byte), logger: logger}
}

// Subscribe registers a channel for topic; the returned cleanup function
// must be called when the subscriber is done.
func (b *MemoryBus) Subscribe(topic string) (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, c := range list {
			if c == ch {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cleanup
}

// Publish JSON-encodes payload and delivers it to every current subscriber
// of topic. A full subscriber channel has its message dropped rather than
// blocking the publisher.
func (b *MemoryBus) Publish(_ context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	subs := append([]chan []byte(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- data:
		default:
			if b.logger != nil {
				b.logger.WithField("topic", topic).Warn("eventbus: dropping message, subscriber channel full")
			}
		}
	}
	return nil
}

// Close is a no-op for MemoryBus; subscribers clean up via their cleanup func.
func (b *MemoryBus) Close() error { return nil }

var _ Bus = (*MemoryBus)(nil)
