package broker

import (
	"context"
	"time"
)

// Broker defines the interface the Trading Engine requires of a brokerage
// adapter. All operations are safe for concurrent invocation and take a
// context for cancellation/timeout.
type Broker interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetClock(ctx context.Context) (*Clock, error)
	GetLatestQuote(ctx context.Context, symbol string) (*QuoteItem, error)
	GetBars(ctx context.Context, symbol string, timeframe string, limit int, start time.Time) ([]Bar, error)
	SubmitMarketOrder(ctx context.Context, symbol string, qty int, side OrderSide, tif TimeInForce, clientOrderID string) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetPositions(ctx context.Context) ([]PositionItem, error)
	ClosePosition(ctx context.Context, symbol string) (*Order, error)
}
