package indicators

import "github.com/nimbustrade/tradeengine/internal/models"

// stochasticOversold/Overbought define the extreme zones both %K and %D
// must agree on before a signal fires.
const (
	stochasticOversold   = 20.0
	stochasticOverbought = 80.0
)

// Stochastic is the stochastic oscillator: BUY when both %K and %D sit in
// the oversold zone, SELL when both sit in the overbought zone.
type Stochastic struct {
	period       int
	smoothPeriod int
}

// NewStochastic creates a Stochastic indicator with the given %K lookback
// and %D smoothing period.
func NewStochastic(period, smoothPeriod int) *Stochastic {
	if smoothPeriod <= 0 {
		smoothPeriod = 3
	}
	return &Stochastic{period: period, smoothPeriod: smoothPeriod}
}

func (s *Stochastic) Name() string      { return "STOCHASTIC" }
func (s *Stochastic) RequiredBars() int { return s.period + s.smoothPeriod - 1 }

func (s *Stochastic) Evaluate(bars []models.Bar) Signal {
	if len(bars) < s.RequiredBars() {
		return Hold
	}

	kValues := make([]float64, 0, s.smoothPeriod)
	for i := 0; i < s.smoothPeriod; i++ {
		end := len(bars) - i
		window := bars[end-s.period : end]
		kValues = append(kValues, percentK(window))
	}

	k := kValues[0]
	var dSum float64
	for _, v := range kValues {
		dSum += v
	}
	d := dSum / float64(len(kValues))

	switch {
	case k <= stochasticOversold && d <= stochasticOversold:
		return Buy
	case k >= stochasticOverbought && d >= stochasticOverbought:
		return Sell
	default:
		return Hold
	}
}

func percentK(window []models.Bar) float64 {
	high := window[0].High
	low := window[0].Low
	for _, b := range window {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	close := window[len(window)-1].Close
	if high == low {
		return 50
	}
	return (close - low) / (high - low) * 100
}

var _ Indicator = (*Stochastic)(nil)
