package risk

import (
	"testing"

	"github.com/nimbustrade/tradeengine/internal/indicators"
	"github.com/nimbustrade/tradeengine/internal/models"
)

func baseRisk() models.RiskConfig {
	return models.RiskConfig{
		MaxPositionSizePct: 5,
		MaxDailyLossPct:    5,
		MaxConcurrentPos:   3,
	}
}

func TestEvaluateSellAlwaysAllowed(t *testing.T) {
	d := Evaluate(indicators.Sell, baseRisk(), 1000, 60, -1000, 10)
	if !d.Allowed {
		t.Fatalf("expected SELL always allowed, got %+v", d)
	}
}

func TestEvaluateHoldAlwaysBlocked(t *testing.T) {
	d := Evaluate(indicators.Hold, baseRisk(), 1000, 60, 0, 0)
	if d.Allowed || d.Reason != "signal_is_hold" {
		t.Fatalf("expected blocked signal_is_hold, got %+v", d)
	}
}

func TestEvaluateBlocksOversizePosition(t *testing.T) {
	// capital=1000, max_position_size=5%, price=60 -> limit is 50, price exceeds it
	d := Evaluate(indicators.Buy, baseRisk(), 1000, 60, 0, 0)
	if d.Allowed {
		t.Fatal("expected block for oversize position")
	}
	if d.Reason != "single_share_exceeds_position_limit" {
		t.Errorf("unexpected reason: %s", d.Reason)
	}
}

func TestEvaluatePositionSizeAtExactLimitAllowed(t *testing.T) {
	risk := baseRisk()
	// allocation = capital * pct/100 = 1000*0.05 = 50; price == 50 should be allowed
	d := Evaluate(indicators.Buy, risk, 1000, 50, 0, 0)
	if !d.Allowed {
		t.Fatalf("expected boundary price==allocation to be allowed, got %+v", d)
	}
}

func TestEvaluateDailyLossAtExactLimitAllowed(t *testing.T) {
	risk := baseRisk()
	risk.MaxPositionSizePct = 100 // avoid tripping position-size first
	// floor = -(1000*5/100) = -50; todayPnL == -50 should be allowed
	d := Evaluate(indicators.Buy, risk, 1000, 10, -50, 0)
	if !d.Allowed {
		t.Fatalf("expected boundary daily-loss==limit to be allowed, got %+v", d)
	}
}

func TestEvaluateDailyLossBelowLimitBlocked(t *testing.T) {
	risk := baseRisk()
	risk.MaxPositionSizePct = 100
	d := Evaluate(indicators.Buy, risk, 1000, 10, -50.01, 0)
	if d.Allowed {
		t.Fatal("expected block when below daily loss floor")
	}
}

func TestEvaluateMaxConcurrentAtLimitBlocked(t *testing.T) {
	risk := baseRisk()
	risk.MaxPositionSizePct = 100
	risk.MaxDailyLossPct = 0
	d := Evaluate(indicators.Buy, risk, 1000, 10, 0, 3)
	if d.Allowed {
		t.Fatal("expected block when open_count == limit")
	}
	if d.Reason != "max_concurrent_positions_reached" {
		t.Errorf("unexpected reason: %s", d.Reason)
	}
}

func TestEvaluateNonPositiveCapitalBlocked(t *testing.T) {
	d := Evaluate(indicators.Buy, baseRisk(), 0, 10, 0, 0)
	if d.Allowed {
		t.Fatal("expected block for non-positive capital")
	}
}

func TestPositionSize(t *testing.T) {
	if got := PositionSize(1000, 5, 60); got != 0 {
		t.Errorf("expected 0 shares (50/60 floors to 0), got %d", got)
	}
	if got := PositionSize(1000, 50, 100); got != 5 {
		t.Errorf("expected 5 shares, got %d", got)
	}
}

func TestStopLossAndTakeProfitPrices(t *testing.T) {
	if got := StopLossPrice(100, 2); got != 98 {
		t.Errorf("expected 98, got %v", got)
	}
	if got := TakeProfitPrice(100, 5); got != 105 {
		t.Errorf("expected 105, got %v", got)
	}
}
