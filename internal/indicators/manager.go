package indicators

import (
	"fmt"

	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/sirupsen/logrus"
)

// Set is an ordered collection of indicators built from a bot's
// configuration, preserving configuration order — the entry path needs
// stable insertion order to find the *first* BUY signal.
type Set struct {
	indicators []Indicator
}

// Build validates a bot's tagged-variant indicator configuration into a
// Set. Unknown indicator names are skipped with a warning rather than
// failing the whole cycle.
func Build(configs []models.IndicatorConfig, logger logrus.FieldLogger) *Set {
	set := &Set{}
	for _, cfg := range configs {
		ind, err := fromConfig(cfg)
		if err != nil {
			if logger != nil {
				logger.WithField("indicator", cfg.Name).WithError(err).Warn("skipping unrecognized indicator config")
			}
			continue
		}
		set.indicators = append(set.indicators, ind)
	}
	return set
}

func fromConfig(cfg models.IndicatorConfig) (Indicator, error) {
	switch cfg.Name {
	case "RSI":
		return NewRSIWithThresholds(
			intParam(cfg.Params, "period", 14),
			floatParam(cfg.Params, "oversold", 30),
			floatParam(cfg.Params, "overbought", 70),
		), nil
	case "MACD":
		return NewMACD(
			intParam(cfg.Params, "fast_period", 12),
			intParam(cfg.Params, "slow_period", 26),
			intParam(cfg.Params, "signal_period", 9),
		), nil
	case "SMA":
		return NewSMA(intParam(cfg.Params, "period", 20)), nil
	case "EMA":
		return NewEMA(intParam(cfg.Params, "period", 20)), nil
	case "BOLLINGER":
		return NewBollinger(
			intParam(cfg.Params, "period", 20),
			floatParam(cfg.Params, "std_dev", 2),
		), nil
	case "STOCHASTIC":
		return NewStochastic(
			intParam(cfg.Params, "period", 14),
			intParam(cfg.Params, "smooth_period", 3),
		), nil
	case "OBV":
		return NewOBV(), nil
	default:
		return nil, fmt.Errorf("unknown indicator %q", cfg.Name)
	}
}

func intParam(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func floatParam(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// EvaluateAll runs every configured indicator and returns (name -> signal)
// in a slice that preserves configuration order.
type NamedSignal struct {
	Name   string
	Signal Signal
}

// MaxRequiredBars returns the largest RequiredBars across the set, the
// history length a caller must fetch before EvaluateAll can produce a
// non-HOLD verdict from every configured indicator. Zero if the set is
// empty.
func (s *Set) MaxRequiredBars() int {
	max := 0
	for _, ind := range s.indicators {
		if n := ind.RequiredBars(); n > max {
			max = n
		}
	}
	return max
}

// EvaluateAll evaluates every indicator in the set against bars, in
// configured order.
func (s *Set) EvaluateAll(bars []models.Bar) []NamedSignal {
	out := make([]NamedSignal, 0, len(s.indicators))
	for _, ind := range s.indicators {
		out = append(out, NamedSignal{Name: ind.Name(), Signal: ind.Evaluate(bars)})
	}
	return out
}

// FirstBuy returns the name of the first (stable insertion-order)
// indicator whose signal is BUY, and true if one exists.
func FirstBuy(signals []NamedSignal) (string, bool) {
	for _, s := range signals {
		if s.Signal == Buy {
			return s.Name, true
		}
	}
	return "", false
}

// SignalFor returns the signal produced by the named indicator, or Hold if
// not present (e.g. the indicator was dropped from config since the
// position was opened).
func SignalFor(signals []NamedSignal, name string) Signal {
	for _, s := range signals {
		if s.Name == name {
			return s.Signal
		}
	}
	return Hold
}

// MajorityVote resolves an exit signal by majority across all configured
// indicators, used only as a fallback for legacy positions that predate
// entry-indicator tracking.
func MajorityVote(signals []NamedSignal) Signal {
	var buys, sells int
	for _, s := range signals {
		switch s.Signal {
		case Buy:
			buys++
		case Sell:
			sells++
		}
	}
	if sells > buys && sells > 0 {
		return Sell
	}
	if buys > sells && buys > 0 {
		return Buy
	}
	return Hold
}
