package indicators

import "github.com/nimbustrade/tradeengine/internal/models"

// RSI is the Relative Strength Index indicator: BUY when oversold, SELL
// when overbought.
type RSI struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSI creates an RSI indicator with the standard 30/70 thresholds.
func NewRSI(period int) *RSI {
	return NewRSIWithThresholds(period, 30, 70)
}

// NewRSIWithThresholds creates an RSI indicator with custom thresholds.
func NewRSIWithThresholds(period int, oversold, overbought float64) *RSI {
	return &RSI{period: period, oversold: oversold, overbought: overbought}
}

func (r *RSI) Name() string       { return "RSI" }
func (r *RSI) RequiredBars() int  { return r.period + 1 }

// Evaluate computes Wilder's RSI over the trailing period+1 bars and maps
// it to a signal against the configured thresholds.
func (r *RSI) Evaluate(bars []models.Bar) Signal {
	if len(bars) < r.RequiredBars() {
		return Hold
	}

	recent := bars[len(bars)-r.period-1:]
	var gains, losses float64
	for i := 1; i < len(recent); i++ {
		change := recent[i].Close - recent[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(r.period)
	avgLoss := losses / float64(r.period)

	var rsi float64
	if avgLoss == 0 {
		rsi = 100
	} else {
		rs := avgGain / avgLoss
		rsi = 100 - (100 / (1 + rs))
	}

	switch {
	case rsi <= r.oversold:
		return Buy
	case rsi >= r.overbought:
		return Sell
	default:
		return Hold
	}
}

var _ Indicator = (*RSI)(nil)
