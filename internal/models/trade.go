package models

import "time"

// TradeSide is the direction of an order.
type TradeSide string

const (
	// SideBuy opens or adds to a position.
	SideBuy TradeSide = "buy"
	// SideSell closes or reduces a position.
	SideSell TradeSide = "sell"
)

// Trade is an immutable-ish record of an order submission and its outcome.
// The client-assigned order id is the idempotency key used to correlate
// local records with broker state during reconciliation.
type Trade struct {
	ID     string `json:"id"`
	BotID  string `json:"bot_id"`
	Symbol string `json:"symbol"`

	Side     TradeSide `json:"side"`
	Quantity int       `json:"quantity"`
	Price    float64   `json:"price"`

	Timestamp time.Time `json:"timestamp"`

	BrokerOrderID   string      `json:"broker_order_id"`
	ClientOrderID   string      `json:"client_order_id"`
	Status          TradeStatus `json:"status"`
	IndicatorSnapshot string    `json:"indicator_snapshot,omitempty"` // JSON
	ProfitLoss      *float64    `json:"profit_loss,omitempty"`
	Reason          string      `json:"reason,omitempty"`
}
