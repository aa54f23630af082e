package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig tunes the breaker wrapping a Broker.
type CircuitBreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// CircuitBreakerAdapter wraps any Broker with a gobreaker circuit breaker so
// a failing brokerage does not cascade call latency/errors across every
// bot sharing that broker instance.
type CircuitBreakerAdapter struct {
	inner   Broker
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerAdapter wraps inner with a circuit breaker named name.
func NewCircuitBreakerAdapter(name string, inner Broker, cfg CircuitBreakerConfig) *CircuitBreakerAdapter {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &CircuitBreakerAdapter{inner: inner, breaker: gobreaker.NewCircuitBreaker(st)}
}

func run[T any](b *CircuitBreakerAdapter, fn func() (T, error)) (T, error) {
	var zero T
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, fmt.Errorf("broker circuit open: %w", err)
		}
		return zero, err
	}
	return result.(T), nil
}

func (b *CircuitBreakerAdapter) GetAccount(ctx context.Context) (*Account, error) {
	return run(b, func() (*Account, error) { return b.inner.GetAccount(ctx) })
}

func (b *CircuitBreakerAdapter) GetClock(ctx context.Context) (*Clock, error) {
	return run(b, func() (*Clock, error) { return b.inner.GetClock(ctx) })
}

func (b *CircuitBreakerAdapter) GetLatestQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	return run(b, func() (*QuoteItem, error) { return b.inner.GetLatestQuote(ctx, symbol) })
}

func (b *CircuitBreakerAdapter) GetBars(ctx context.Context, symbol, timeframe string, limit int, start time.Time) ([]Bar, error) {
	return run(b, func() ([]Bar, error) { return b.inner.GetBars(ctx, symbol, timeframe, limit, start) })
}

func (b *CircuitBreakerAdapter) SubmitMarketOrder(
	ctx context.Context, symbol string, qty int, side OrderSide, tif TimeInForce, clientOrderID string,
) (*Order, error) {
	return run(b, func() (*Order, error) {
		return b.inner.SubmitMarketOrder(ctx, symbol, qty, side, tif, clientOrderID)
	})
}

func (b *CircuitBreakerAdapter) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return run(b, func() (*Order, error) { return b.inner.GetOrder(ctx, orderID) })
}

func (b *CircuitBreakerAdapter) CancelOrder(ctx context.Context, orderID string) error {
	_, err := run(b, func() (struct{}, error) { return struct{}{}, b.inner.CancelOrder(ctx, orderID) })
	return err
}

func (b *CircuitBreakerAdapter) GetPositions(ctx context.Context) ([]PositionItem, error) {
	return run(b, func() ([]PositionItem, error) { return b.inner.GetPositions(ctx) })
}

func (b *CircuitBreakerAdapter) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	return run(b, func() (*Order, error) { return b.inner.ClosePosition(ctx, symbol) })
}

var _ Broker = (*CircuitBreakerAdapter)(nil)
