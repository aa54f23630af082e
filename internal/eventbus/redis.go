package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes over a Redis PUBLISH channel, giving delivery across
// process instances. There is no local fan-out to read back — Publish is a
// fire-and-forget append to the channel's subscriber list, as the engine
// never needs to consume its own events.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an existing Redis client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish JSON-encodes payload and publishes it to topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, topic, data).Err()
}

// Close releases the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
