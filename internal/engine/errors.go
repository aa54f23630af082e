// Package engine is the Trading Engine: the Supervisor, Market Monitor,
// BotRunner and Reconciler that together drive the signal→risk→order→ledger
// pipeline for every running bot.
package engine

import (
	"fmt"

	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/models"
)

// TransientBrokerError wraps a broker failure expected to clear on its own
// (network/timeout/5xx). The owning loop retries on its next tick; surfaced
// to the Activity Log at warning.
type TransientBrokerError struct {
	Op  string
	Err error
}

func (e *TransientBrokerError) Error() string {
	return fmt.Sprintf("transient broker error during %s: %v", e.Op, e.Err)
}
func (e *TransientBrokerError) Unwrap() error { return e.Err }

// PermanentBrokerError wraps a broker failure that will not clear on retry
// (4xx, rejected order). The action is abandoned; surfaced at error.
type PermanentBrokerError struct {
	Op  string
	Err error
}

func (e *PermanentBrokerError) Error() string {
	return fmt.Sprintf("permanent broker error during %s: %v", e.Op, e.Err)
}
func (e *PermanentBrokerError) Unwrap() error { return e.Err }

// ConsistencyDrift describes a disagreement the Reconciler found between
// broker and local state. Safe drift is repaired automatically; unsafe
// drift (excess-in-broker) is only reported.
type ConsistencyDrift struct {
	UserID string
	Detail string
	Unsafe bool
}

func (e *ConsistencyDrift) Error() string {
	return fmt.Sprintf("consistency drift for user %s: %s", e.UserID, e.Detail)
}

// ConfigurationMissing means a bot has no broker credentials available.
// Its registration is skipped with a warning; bot status is not mutated.
type ConfigurationMissing struct {
	BotID  string
	Detail string
}

func (e *ConfigurationMissing) Error() string {
	return fmt.Sprintf("bot %s missing configuration: %s", e.BotID, e.Detail)
}

// InternalFailure is an uncategorized escape from a BotRunner cycle. It
// increments the consecutive-error counter; the runner auto-stops at the cap.
type InternalFailure struct {
	Op  string
	Err error
}

func (e *InternalFailure) Error() string {
	return fmt.Sprintf("internal failure during %s: %v", e.Op, e.Err)
}
func (e *InternalFailure) Unwrap() error { return e.Err }

func terminalTradeStatus(s broker.OrderStatus) models.TradeStatus {
	switch s {
	case broker.OrderCanceled:
		return models.TradeCanceled
	case broker.OrderExpired:
		return models.TradeExpired
	case broker.OrderRejected:
		return models.TradeRejected
	default:
		return models.TradeRejected
	}
}
