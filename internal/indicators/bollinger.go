package indicators

import (
	"math"

	"github.com/nimbustrade/tradeengine/internal/models"
)

// Bollinger signals BUY when price closes below the lower band (oversold
// relative to recent volatility) and SELL when it closes above the upper
// band.
type Bollinger struct {
	period int
	stdDev float64
}

// NewBollinger creates a Bollinger Bands indicator over period bars at
// stdDev standard deviations.
func NewBollinger(period int, stdDev float64) *Bollinger {
	if stdDev <= 0 {
		stdDev = 2.0
	}
	return &Bollinger{period: period, stdDev: stdDev}
}

func (b *Bollinger) Name() string      { return "BOLLINGER" }
func (b *Bollinger) RequiredBars() int { return b.period }

func (b *Bollinger) Evaluate(bars []models.Bar) Signal {
	if len(bars) < b.period {
		return Hold
	}
	window := bars[len(bars)-b.period:]

	var sum float64
	for _, bar := range window {
		sum += bar.Close
	}
	mean := sum / float64(b.period)

	var variance float64
	for _, bar := range window {
		d := bar.Close - mean
		variance += d * d
	}
	variance /= float64(b.period)
	stddev := math.Sqrt(variance)

	upper := mean + b.stdDev*stddev
	lower := mean - b.stdDev*stddev
	price := window[len(window)-1].Close

	switch {
	case price < lower:
		return Buy
	case price > upper:
		return Sell
	default:
		return Hold
	}
}

var _ Indicator = (*Bollinger)(nil)
