package indicators

import "github.com/nimbustrade/tradeengine/internal/models"

// macdDeadband is the minimum histogram magnitude required to produce a
// signal rather than HOLD, avoiding flip-flopping near zero-cross.
const macdDeadband = 0.01

// MACD signals off the sign of the MACD histogram (MACD line minus its
// signal line), with a small dead-band around zero.
type MACD struct {
	fastPeriod   int
	slowPeriod   int
	signalPeriod int
}

// NewMACD creates a MACD indicator with the given fast/slow/signal periods.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) *MACD {
	return &MACD{fastPeriod: fastPeriod, slowPeriod: slowPeriod, signalPeriod: signalPeriod}
}

func (m *MACD) Name() string      { return "MACD" }
func (m *MACD) RequiredBars() int { return m.slowPeriod + m.signalPeriod }

func (m *MACD) Evaluate(bars []models.Bar) Signal {
	if len(bars) < m.RequiredBars() {
		return Hold
	}

	macdSeries := make([]float64, 0, len(bars)-m.slowPeriod+1)
	for end := m.slowPeriod; end <= len(bars); end++ {
		window := bars[:end]
		fast := computeEMA(window, m.fastPeriod)
		slow := computeEMA(window, m.slowPeriod)
		macdSeries = append(macdSeries, fast-slow)
	}
	if len(macdSeries) < m.signalPeriod {
		return Hold
	}

	signalLine := macdSeries[0]
	alpha := 2.0 / float64(m.signalPeriod+1)
	for _, v := range macdSeries {
		signalLine = (v * alpha) + (signalLine * (1 - alpha))
	}

	histogram := macdSeries[len(macdSeries)-1] - signalLine

	switch {
	case histogram > macdDeadband:
		return Buy
	case histogram < -macdDeadband:
		return Sell
	default:
		return Hold
	}
}

var _ Indicator = (*MACD)(nil)
