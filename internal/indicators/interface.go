// Package indicators computes trading signals from OHLCV price history.
// Each indicator is a pure function of its configured parameters and the
// bar history it is given: {RSI, MACD, SMA, EMA, Bollinger Bands,
// Stochastic, OBV}, each producing a BUY/SELL/HOLD signal. Insufficient
// history yields HOLD rather than an error, so a thin-history symbol never
// blocks a bot's cycle.
package indicators

import "github.com/nimbustrade/tradeengine/internal/models"

// Signal is the three-way outcome of evaluating one indicator.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Indicator evaluates a BUY/SELL/HOLD signal from bar history. RequiredBars
// reports the minimum history length needed for a non-HOLD verdict.
type Indicator interface {
	Name() string
	RequiredBars() int
	Evaluate(bars []models.Bar) Signal
}
