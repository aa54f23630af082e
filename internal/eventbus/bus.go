// Package eventbus is the engine's publish-only fan-out channel: state
// changes flow out to external UIs, nothing flows back in.
package eventbus

import "context"

// Bus publishes JSON-serializable payloads to named topics. Implementations
// must be safe for concurrent use; Publish never blocks on a slow or absent
// subscriber.
type Bus interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}
