// Package models provides data structures and state management for the
// trading engine: users, bots, positions, trades, activity log entries,
// broker credentials, and the state machines that govern their lifecycle.
package models

import "time"

// Bar is a single OHLCV price bar used as indicator input.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Quote is a top-of-book snapshot for a symbol.
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Ts     time.Time
}

// Mid returns the midpoint of bid/ask, falling back to whichever side is set.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	if q.Ask > 0 {
		return q.Ask
	}
	return q.Bid
}
