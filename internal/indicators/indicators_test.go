package indicators

import (
	"testing"
	"time"

	"github.com/nimbustrade/tradeengine/internal/models"
)

func barsFromCloses(closes []float64) []models.Bar {
	bars := make([]models.Bar, len(closes))
	ts := time.Now().Add(-time.Duration(len(closes)) * time.Minute)
	for i, c := range closes {
		bars[i] = models.Bar{Timestamp: ts.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

func TestRSIInsufficientHistoryHolds(t *testing.T) {
	r := NewRSI(14)
	if got := r.Evaluate(barsFromCloses([]float64{1, 2, 3})); got != Hold {
		t.Errorf("expected Hold, got %s", got)
	}
}

func TestRSIOversoldBuys(t *testing.T) {
	closes := make([]float64, 15)
	price := 100.0
	for i := range closes {
		closes[i] = price
		price -= 1 // steady decline -> oversold
	}
	r := NewRSI(14)
	if got := r.Evaluate(barsFromCloses(closes)); got != Buy {
		t.Errorf("expected Buy on steady decline, got %s", got)
	}
}

func TestRSIOverboughtSells(t *testing.T) {
	closes := make([]float64, 15)
	price := 100.0
	for i := range closes {
		closes[i] = price
		price += 1 // steady rise -> overbought
	}
	r := NewRSI(14)
	if got := r.Evaluate(barsFromCloses(closes)); got != Sell {
		t.Errorf("expected Sell on steady rise, got %s", got)
	}
}

func TestSMABuySellHold(t *testing.T) {
	s := NewSMA(5)
	flat := barsFromCloses([]float64{100, 100, 100, 100, 100})
	if got := s.Evaluate(flat); got != Hold {
		t.Errorf("expected Hold at the average, got %s", got)
	}

	rising := barsFromCloses([]float64{90, 92, 94, 96, 120})
	if got := s.Evaluate(rising); got != Buy {
		t.Errorf("expected Buy when price well above average, got %s", got)
	}

	falling := barsFromCloses([]float64{110, 108, 106, 104, 50})
	if got := s.Evaluate(falling); got != Sell {
		t.Errorf("expected Sell when price well below average, got %s", got)
	}
}

func TestBollingerExtremesSignal(t *testing.T) {
	b := NewBollinger(10, 2)
	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	if got := b.Evaluate(barsFromCloses(closes)); got != Hold {
		t.Errorf("expected Hold on flat series, got %s", got)
	}
}

func TestOBVTrendSignal(t *testing.T) {
	o := NewOBV()
	rising := barsFromCloses([]float64{10, 11, 12, 13, 14, 15})
	if got := o.Evaluate(rising); got != Buy {
		t.Errorf("expected Buy on rising close/volume accumulation, got %s", got)
	}
}

func TestSetFirstBuyStableOrder(t *testing.T) {
	signals := []NamedSignal{
		{Name: "RSI", Signal: Hold},
		{Name: "SMA", Signal: Buy},
		{Name: "EMA", Signal: Buy},
	}
	name, ok := FirstBuy(signals)
	if !ok || name != "SMA" {
		t.Errorf("expected first buy SMA, got %q ok=%v", name, ok)
	}
}

func TestMajorityVote(t *testing.T) {
	signals := []NamedSignal{
		{Name: "RSI", Signal: Sell},
		{Name: "SMA", Signal: Sell},
		{Name: "EMA", Signal: Buy},
	}
	if got := MajorityVote(signals); got != Sell {
		t.Errorf("expected majority Sell, got %s", got)
	}
}

func TestBuildSkipsUnknownIndicator(t *testing.T) {
	cfgs := []models.IndicatorConfig{
		{Name: "RSI", Params: map[string]interface{}{"period": 14}},
		{Name: "NOT_REAL"},
	}
	set := Build(cfgs, nil)
	if len(set.indicators) != 1 {
		t.Fatalf("expected 1 indicator built, got %d", len(set.indicators))
	}
}
