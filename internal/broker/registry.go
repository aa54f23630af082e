package broker

import (
	"sync"
	"time"

	"github.com/nimbustrade/tradeengine/internal/models"
)

// Registry is the Credentials Service: it lazily constructs and caches one
// circuit-breaker-wrapped Broker per user, falling back to a default
// env-sourced instance for users without explicit BrokerCredentials.
type Registry struct {
	mu       sync.Mutex
	byUser   map[string]Broker
	breaker  CircuitBreakerConfig
	timeout  time.Duration
	fallback Broker // default instance resolved from environment, may be nil
}

// NewRegistry constructs a Registry. fallback may be nil if no default
// broker is configured.
func NewRegistry(breaker CircuitBreakerConfig, timeout time.Duration, fallback Broker) *Registry {
	return &Registry{
		byUser:  make(map[string]Broker),
		breaker: breaker,
		timeout: timeout,
		fallback: fallback,
	}
}

// ForUser returns the Broker for userID, constructing it from creds on
// first use. If creds is nil and a fallback was configured, the fallback
// is returned. Returns (nil, false) if neither is available.
func (r *Registry) ForUser(userID string, creds *models.BrokerCredentials) (Broker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.byUser[userID]; ok {
		return b, true
	}

	if creds != nil {
		client := NewAlpacaClient(creds.BaseURL, creds.APIKey, creds.Secret, r.timeout)
		wrapped := NewCircuitBreakerAdapter("broker-user-"+userID, client, r.breaker)
		r.byUser[userID] = wrapped
		return wrapped, true
	}

	if r.fallback != nil {
		r.byUser[userID] = r.fallback
		return r.fallback, true
	}

	return nil, false
}

// Forget drops a cached instance, e.g. after credentials are rotated.
func (r *Registry) Forget(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUser, userID)
}
