// Package risk implements the Risk Manager: a pure function that decides
// whether a proposed order may proceed, plus the pure position-sizing and
// stop-loss/take-profit helpers it shares with the order execution path.
package risk

import (
	"math"

	"github.com/nimbustrade/tradeengine/internal/indicators"
	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/nimbustrade/tradeengine/internal/util"
)

// Decision is the Risk Manager's verdict on a proposed order.
type Decision struct {
	Allowed bool
	Reason  string
}

func allowed(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func blocked(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Evaluate runs the risk rules in order, first failure wins. capital,
// price, todayPnL and openCount are all read fresh by the caller (the
// BotRunner) immediately before the call; Evaluate itself touches no state.
func Evaluate(
	signal indicators.Signal,
	risk models.RiskConfig,
	capital, price, todayPnL float64,
	openCount int,
) Decision {
	if signal == indicators.Sell {
		return allowed("sell_always_allowed")
	}
	if signal == indicators.Hold {
		return blocked("signal_is_hold")
	}

	if capital <= 0 {
		return blocked("capital_not_positive")
	}
	if price <= 0 {
		return blocked("price_not_positive")
	}
	if price > capital {
		return blocked("price_exceeds_capital")
	}

	if risk.MaxPositionSizePct > 0 {
		maxShare := capital * (risk.MaxPositionSizePct / 100)
		if price > maxShare {
			return blocked("single_share_exceeds_position_limit")
		}
	}

	if risk.MaxDailyLossPct > 0 {
		floor := -(capital * risk.MaxDailyLossPct / 100)
		if todayPnL < floor {
			return blocked("daily_loss_limit_reached")
		}
	}

	if risk.MaxConcurrentPos > 0 && openCount >= risk.MaxConcurrentPos {
		return blocked("max_concurrent_positions_reached")
	}

	return allowed("risk_checks_passed")
}

// PositionSize returns the integer share count affordable at pct% of
// capital for the given price.
func PositionSize(capital, pct, price float64) int {
	if price <= 0 {
		return 0
	}
	return int(math.Floor((capital * pct / 100) / price))
}

// StopLossPrice computes the stop-loss price level for a long entry.
func StopLossPrice(entry, slPct float64) float64 {
	return util.RoundToTick(entry*(1-slPct/100), 0.01)
}

// TakeProfitPrice computes the take-profit price level for a long entry.
func TakeProfitPrice(entry, tpPct float64) float64 {
	return util.RoundToTick(entry*(1+tpPct/100), 0.01)
}
