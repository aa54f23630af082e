// Package broker provides the Broker Adapter: a thin async wrapper over an
// external brokerage, plus a circuit-breaker wrapper and a per-user
// Credentials Service registry.
package broker

import "time"

// Account is a snapshot of account-level balances.
type Account struct {
	Equity      float64
	BuyingPower float64
	Cash        float64
}

// Clock reports whether the market is currently open.
type Clock struct {
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// QuoteItem is a top-of-book snapshot for a symbol.
type QuoteItem struct {
	Symbol string
	Bid    float64
	Ask    float64
	Ts     time.Time
}

// Bar is a single OHLCV price bar.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// OrderSide mirrors models.TradeSide at the broker boundary.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// TimeInForce controls how long a submitted order remains active.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
)

// OrderStatus is the broker's view of an order's lifecycle state.
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderPartiallyFilled  OrderStatus = "partially_filled"
	OrderFilled           OrderStatus = "filled"
	OrderCanceled         OrderStatus = "canceled"
	OrderExpired          OrderStatus = "expired"
	OrderRejected         OrderStatus = "rejected"
)

// IsTerminal reports whether the broker considers this status final.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderExpired, OrderRejected:
		return true
	default:
		return false
	}
}

// Order is the broker's representation of a submitted order.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Quantity      int
	FilledQty     int
	FilledAvgPrice float64
	Status        OrderStatus
	SubmittedAt   time.Time
}

// PositionItem is the broker's view of a held position.
type PositionItem struct {
	Symbol           string
	Quantity         int
	AvgEntryPrice    float64
	CurrentPrice     float64
}
