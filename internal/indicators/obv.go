package indicators

import "github.com/nimbustrade/tradeengine/internal/models"

// obvTrendBars is how many trailing OBV deltas are averaged to judge trend
// direction.
const obvTrendBars = 5

// OBV (On-Balance Volume) signals on the sign of its recent trend: rising
// OBV (accumulation) is BUY, falling OBV (distribution) is SELL.
type OBV struct{}

// NewOBV creates an On-Balance Volume indicator.
func NewOBV() *OBV { return &OBV{} }

func (o *OBV) Name() string      { return "OBV" }
func (o *OBV) RequiredBars() int { return obvTrendBars + 1 }

func (o *OBV) Evaluate(bars []models.Bar) Signal {
	if len(bars) < o.RequiredBars() {
		return Hold
	}
	window := bars[len(bars)-o.RequiredBars():]

	obv := make([]float64, len(window))
	for i := 1; i < len(window); i++ {
		switch {
		case window[i].Close > window[i-1].Close:
			obv[i] = obv[i-1] + window[i].Volume
		case window[i].Close < window[i-1].Close:
			obv[i] = obv[i-1] - window[i].Volume
		default:
			obv[i] = obv[i-1]
		}
	}

	delta := obv[len(obv)-1] - obv[0]
	switch {
	case delta > 0:
		return Buy
	case delta < 0:
		return Sell
	default:
		return Hold
	}
}

var _ Indicator = (*OBV)(nil)
