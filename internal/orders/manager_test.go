package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/eventbus"
	"github.com/nimbustrade/tradeengine/internal/mock"
	"github.com/nimbustrade/tradeengine/internal/models"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestExecuteBuyRecordsPendingBeforeFill(t *testing.T) {
	brk := mock.NewBroker()
	brk.SetQuote("AAPL", 99, 101)
	st := mock.NewStore()
	bus := eventbus.NewMemoryBus(nil)
	mgr := NewManager(brk, st, bus, testLogger(), Config{PollAttempts: 3, PollInterval: time.Millisecond})

	bot := &models.Bot{ID: "bot-1"}
	st.PutBot(*bot)

	trade, pos, err := mgr.ExecuteBuy(context.Background(), BuyParams{
		Bot: bot, Symbol: "AAPL", Quantity: 10, LastPrice: 100,
		StopLossPrice: 98, TakeProfitPrice: 105, EntryIndicator: "RSI",
	})
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if trade.Status != models.TradeNew {
		t.Fatalf("expected trade to remain pending without a fill, got %s", trade.Status)
	}
	if !pos.IsOpen {
		t.Fatalf("expected open position while unfilled, got closed")
	}

	open, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if open == nil {
		t.Fatal("expected pending position to be visible to the next cycle immediately")
	}
}

func TestExecuteBuyFillUpdatesEntryPrice(t *testing.T) {
	brk := mock.NewBroker()
	brk.SetQuote("AAPL", 99, 101)
	brk.AutoFill = true
	brk.AutoFillPrice = 100.50
	st := mock.NewStore()
	bus := eventbus.NewMemoryBus(nil)
	mgr := NewManager(brk, st, bus, testLogger(), Config{PollAttempts: 3, PollInterval: time.Millisecond})

	bot := &models.Bot{ID: "bot-1"}
	st.PutBot(*bot)

	trade, pos, err := mgr.ExecuteBuy(context.Background(), BuyParams{
		Bot: bot, Symbol: "AAPL", Quantity: 10, LastPrice: 100,
		StopLossPrice: 98, TakeProfitPrice: 105, EntryIndicator: "RSI",
	})
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if trade.Status != models.TradeFilled {
		t.Fatalf("expected filled trade, got %s", trade.Status)
	}
	if pos.EntryPrice != 100.50 {
		t.Errorf("expected entry price re-anchored to fill price, got %v", pos.EntryPrice)
	}
	if *pos.StopLossPrice != 98.50 {
		t.Errorf("expected stop-loss re-anchored preserving the 2-point offset, got %v", *pos.StopLossPrice)
	}
}

func TestExecuteBuyRejectedClosesPendingPosition(t *testing.T) {
	brk := mock.NewBroker()
	brk.SetQuote("AAPL", 99, 101)
	st := mock.NewStore()
	bus := eventbus.NewMemoryBus(nil)
	mgr := NewManager(brk, st, bus, testLogger(), Config{PollAttempts: 20, PollInterval: 2 * time.Millisecond})

	bot := &models.Bot{ID: "bot-1"}
	st.PutBot(*bot)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(4 * time.Millisecond)
		brk.RejectOrder(brk.LastOrderID(), broker.OrderRejected)
	}()

	trade, pos, err := mgr.ExecuteBuy(context.Background(), BuyParams{
		Bot: bot, Symbol: "AAPL", Quantity: 10, LastPrice: 100,
		StopLossPrice: 98, TakeProfitPrice: 105, EntryIndicator: "RSI",
	})
	<-done
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if trade.Status != models.TradeRejected {
		t.Fatalf("expected rejected trade, got %s", trade.Status)
	}
	if pos.IsOpen {
		t.Fatal("expected preliminary position closed after rejection")
	}
}

func TestExecuteSellClosesPositionOnFill(t *testing.T) {
	brk := mock.NewBroker()
	brk.AutoFill = true
	brk.AutoFillPrice = 110
	st := mock.NewStore()
	bus := eventbus.NewMemoryBus(nil)

	bot := &models.Bot{ID: "bot-1"}
	st.PutBot(*bot)

	opened := time.Now().Add(-time.Hour)
	pos := &models.Position{
		ID: "pos-1", BotID: "bot-1", Symbol: "AAPL", Quantity: 10,
		EntryPrice: 100, CurrentPrice: 100, OpenedAt: opened, IsOpen: true,
		EntryIndicator: "RSI",
	}
	seedTrade := &models.Trade{ID: "seed-trade", BotID: "bot-1", Symbol: "AAPL", ClientOrderID: "seed"}
	if err := st.CreatePendingBuy(context.Background(), seedTrade, pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	mgr := NewManager(brk, st, bus, testLogger(), Config{PollAttempts: 3, PollInterval: time.Millisecond})
	if err := mgr.ExecuteSell(context.Background(), bot, pos, 110, "take_profit_triggered"); err != nil {
		t.Fatalf("ExecuteSell: %v", err)
	}

	closed, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if closed != nil {
		t.Fatal("expected position closed after sell fill")
	}
}

func TestNewClientOrderIDIsBotPrefixedAndUnique(t *testing.T) {
	id1 := NewClientOrderID("bot-123")
	id2 := NewClientOrderID("bot-123")
	if id1 == id2 {
		t.Fatal("expected distinct client order ids across calls")
	}
	if id1[:4] != "bot-" {
		t.Errorf("expected bot- prefix, got %s", id1)
	}
}
