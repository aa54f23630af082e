package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/activity"
	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/mock"
	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/nimbustrade/tradeengine/internal/util"
)

type alwaysOpen struct{}

func (alwaysOpen) MarketOpen() bool { return true }

func testBotLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fullDayWindow() models.TradingWindow {
	return models.TradingWindow{StartHour: 0, StartMinute: 0, EndHour: 23, EndMinute: 59}
}

func descendingBars(n int, start float64) []broker.Bar {
	bars := make([]broker.Bar, n)
	price := start
	for i := 0; i < n; i++ {
		bars[i] = broker.Bar{Timestamp: time.Now().Add(time.Duration(i) * time.Minute), Close: price}
		price--
	}
	return bars
}

func ascendingBars(n int, start float64) []broker.Bar {
	bars := make([]broker.Bar, n)
	price := start
	for i := 0; i < n; i++ {
		bars[i] = broker.Bar{Timestamp: time.Now().Add(time.Duration(i) * time.Minute), Close: price}
		price++
	}
	return bars
}

func testBot(window models.TradingWindow) *models.Bot {
	return &models.Bot{
		ID: "bot-1", OwnerID: "user-1", Capital: 10000, PeriodSecs: 30,
		Symbols: []string{"AAPL"}, Window: window,
		Indicators: []models.IndicatorConfig{{Name: "RSI", Params: map[string]interface{}{"period": 3}}},
		Risk: models.RiskConfig{
			StopLossPct: 2, TakeProfitPct: 4, MaxPositionSizePct: 100,
			MaxDailyLossPct: 50, MaxConcurrentPos: 5,
		},
		Status: models.BotRunning,
	}
}

func TestBotRunnerEntersOnBuySignal(t *testing.T) {
	st := mock.NewStore()
	bot := testBot(fullDayWindow())
	st.PutBot(*bot)

	brk := mock.NewBroker()
	brk.SetBars("AAPL", descendingBars(4, 105))
	brk.SetQuote("AAPL", 99.5, 100.5)
	brk.AutoFill = true
	brk.AutoFillPrice = 100

	runner := NewBotRunner(bot, st, brk, nil, activity.NewLogger(st, nil), alwaysOpen{}, testBotLogger(), 5)

	if err := runner.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	pos, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if pos == nil {
		t.Fatal("expected a position to be opened on a BUY signal")
	}
	if pos.EntryIndicator != "RSI" {
		t.Errorf("expected entry indicator RSI recorded, got %q", pos.EntryIndicator)
	}
	if *pos.StopLossPrice >= pos.EntryPrice {
		t.Errorf("expected stop-loss below entry price, got stop=%v entry=%v", *pos.StopLossPrice, pos.EntryPrice)
	}
}

func TestBotRunnerExitsOnEntryIndicatorSellSignal(t *testing.T) {
	st := mock.NewStore()
	bot := testBot(fullDayWindow())
	st.PutBot(*bot)

	sl, tp := 90.0, 120.0
	pos := &models.Position{
		ID: "pos-1", BotID: "bot-1", Symbol: "AAPL", Quantity: 10,
		EntryPrice: 100, CurrentPrice: 100, StopLossPrice: &sl, TakeProfitPrice: &tp,
		OpenedAt: time.Now().Add(-time.Hour), IsOpen: true, EntryIndicator: "RSI",
	}
	seedTrade := &models.Trade{ID: "seed", BotID: "bot-1", Symbol: "AAPL", ClientOrderID: "seed"}
	if err := st.CreatePendingBuy(context.Background(), seedTrade, pos); err != nil {
		t.Fatalf("seed: %v", err)
	}

	brk := mock.NewBroker()
	brk.SetBars("AAPL", ascendingBars(4, 100)) // ascending closes => RSI sell signal
	brk.SetQuote("AAPL", 104.5, 105.5)
	brk.AutoFill = true
	brk.AutoFillPrice = 105

	runner := NewBotRunner(bot, st, brk, nil, activity.NewLogger(st, nil), alwaysOpen{}, testBotLogger(), 5)

	if err := runner.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	open, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if open != nil {
		t.Fatal("expected the position closed by the entry indicator's SELL signal")
	}
}

func TestBotRunnerStopLossClosesPosition(t *testing.T) {
	st := mock.NewStore()
	bot := testBot(fullDayWindow())
	st.PutBot(*bot)

	sl, tp := 98.0, 110.0
	pos := &models.Position{
		ID: "pos-1", BotID: "bot-1", Symbol: "AAPL", Quantity: 10,
		EntryPrice: 100, CurrentPrice: 100, StopLossPrice: &sl, TakeProfitPrice: &tp,
		OpenedAt: time.Now().Add(-time.Hour), IsOpen: true, EntryIndicator: "RSI",
	}
	seedTrade := &models.Trade{ID: "seed", BotID: "bot-1", Symbol: "AAPL", ClientOrderID: "seed"}
	if err := st.CreatePendingBuy(context.Background(), seedTrade, pos); err != nil {
		t.Fatalf("seed: %v", err)
	}

	brk := mock.NewBroker()
	brk.SetQuote("AAPL", 96.5, 97.5) // mid 97 breaches the 98 stop-loss
	brk.AutoFill = true
	brk.AutoFillPrice = 97

	runner := NewBotRunner(bot, st, brk, nil, activity.NewLogger(st, nil), alwaysOpen{}, testBotLogger(), 5)

	if err := runner.monitorOpenPositions(context.Background()); err != nil {
		t.Fatalf("monitorOpenPositions: %v", err)
	}

	open, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if open != nil {
		t.Fatal("expected stop-loss breach to close the position")
	}
}

func TestBotRunnerSkipsOutsideTradingWindow(t *testing.T) {
	st := mock.NewStore()
	narrow := models.TradingWindow{StartHour: 0, StartMinute: 0, EndHour: 0, EndMinute: 1}
	bot := testBot(narrow)
	st.PutBot(*bot)

	brk := mock.NewBroker()
	brk.SetBars("AAPL", descendingBars(4, 105))
	brk.SetQuote("AAPL", 99.5, 100.5)

	runner := NewBotRunner(bot, st, brk, nil, activity.NewLogger(st, nil), alwaysOpen{}, testBotLogger(), 5)

	et, _ := util.MinutesOfDayET(time.Now())
	if narrow.Contains(et) {
		t.Skip("current ET minute-of-day happens to fall in the narrow window, skipping this run")
	}

	if err := runner.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	pos, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if pos != nil {
		t.Fatal("expected no position opened outside the trading window")
	}
}

func TestBotRunnerEscalatesToErroredAtCap(t *testing.T) {
	st := mock.NewStore()
	bot := testBot(fullDayWindow())
	st.PutBot(*bot)

	brk := mock.NewBroker()
	brk.GetLatestQuoteErr = context.DeadlineExceeded // forces every quote-dependent step to fail
	brk.SetBars("AAPL", descendingBars(4, 105))

	runner := NewBotRunner(bot, st, brk, nil, activity.NewLogger(st, nil), alwaysOpen{}, testBotLogger(), 2)
	if err := runner.state.Transition(models.RunnerRunning, "start"); err != nil {
		t.Fatalf("force running state: %v", err)
	}

	if errored := runner.runCycle(context.Background()); errored {
		t.Fatal("expected first failure to not yet reach the cap")
	}
	if errored := runner.runCycle(context.Background()); !errored {
		t.Fatal("expected second failure to reach the consecutive-error cap")
	}

	if runner.State() != models.RunnerErrored {
		t.Errorf("expected runner in Errored state, got %s", runner.State())
	}
	updated, err := st.GetBot(context.Background(), "bot-1")
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if updated.Status != models.BotError {
		t.Errorf("expected persisted bot status error, got %s", updated.Status)
	}
}
