package eventbus

import "time"

// TradeExecuted mirrors a Trade at the moment its status last changed.
type TradeExecuted struct {
	ID         string     `json:"id"`
	BotID      string     `json:"bot_id"`
	Symbol     string     `json:"symbol"`
	Type       string     `json:"type"` // buy/sell
	Quantity   int        `json:"quantity"`
	Price      float64    `json:"price"`
	Timestamp  time.Time  `json:"timestamp"`
	ProfitLoss *float64   `json:"profit_loss,omitempty"`
	Status     string     `json:"status"`
	OrderID    string     `json:"order_id"`
}

// PositionUpdated mirrors a Position at the moment it was last mutated.
type PositionUpdated struct {
	ID              string     `json:"id"`
	BotID           string     `json:"bot_id"`
	Symbol          string     `json:"symbol"`
	Quantity        int        `json:"quantity"`
	EntryPrice      float64    `json:"entry_price"`
	CurrentPrice    float64    `json:"current_price"`
	StopLossPrice   *float64   `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *float64   `json:"take_profit_price,omitempty"`
	UnrealizedPnL   float64    `json:"unrealized_pnl"`
	RealizedPnL     float64    `json:"realized_pnl"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	IsOpen          bool       `json:"is_open"`
	EntryIndicator  string     `json:"entry_indicator,omitempty"`
}

// BotStatusChanged reports a bot's lifecycle transition.
type BotStatusChanged struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	IsActive   bool   `json:"is_active"`
	ErrorCount *int   `json:"error_count,omitempty"`
}

// MarketStatusChanged reports the Market Monitor's last-observed state.
type MarketStatusChanged struct {
	IsOpen bool `json:"is_open"`
}

// ReconciliationAlert lists the per-symbol quantity drift one Reconciler
// pass found for a user: excess-in-local drift, which the pass has already
// closed, and excess-in-broker drift, which it only reports.
type ReconciliationAlert struct {
	UserID         string    `json:"user_id"`
	Discrepancies  []string  `json:"discrepancies"`
	Timestamp      time.Time `json:"timestamp"`
}

// PriceUpdate carries the latest mid-price observed for a symbol. The event
// and its topic are declared, but no component in this repository publishes
// it.
type PriceUpdate struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
