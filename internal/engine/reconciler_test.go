package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/eventbus"
	"github.com/nimbustrade/tradeengine/internal/mock"
	"github.com/nimbustrade/tradeengine/internal/models"
)

// fixedResolver always returns the same broker, regardless of credentials —
// a stand-in for *broker.Registry so tests can script broker behavior
// directly instead of going through a live Alpaca client.
type fixedResolver struct{ b broker.Broker }

func (f fixedResolver) ForUser(string, *models.BrokerCredentials) (broker.Broker, bool) {
	return f.b, true
}

func seedUserWithCredentials(t *testing.T, st *mock.Store, userID string) {
	t.Helper()
	st.PutUser(models.User{ID: userID}, &models.BrokerCredentials{UserID: userID, APIKey: "k", Secret: "s", BaseURL: "https://example.test"})
}

func TestReconcilerResolvesPendingBuyToFilled(t *testing.T) {
	st := mock.NewStore()
	seedUserWithCredentials(t, st, "user-1")
	bot := models.Bot{ID: "bot-1", OwnerID: "user-1"}
	st.PutBot(bot)

	brk := mock.NewBroker()
	stopLoss := 98.0
	pos := &models.Position{ID: "pos-1", BotID: "bot-1", Symbol: "AAPL", Quantity: 10, EntryPrice: 100, StopLossPrice: &stopLoss, OpenedAt: time.Now(), IsOpen: true}
	order, err := brk.SubmitMarketOrder(context.Background(), "AAPL", 10, broker.OrderSideBuy, broker.TIFDay, "client-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	trade := &models.Trade{ID: "trade-1", BotID: "bot-1", Symbol: "AAPL", Side: models.SideBuy, Quantity: 10,
		Price: 100, Timestamp: time.Now(), BrokerOrderID: order.ID, ClientOrderID: "client-1", Status: models.TradeNew}
	if err := st.CreatePendingBuy(context.Background(), trade, pos); err != nil {
		t.Fatalf("seed pending buy: %v", err)
	}
	brk.FillOrder(order.ID, 101.25)
	// The fill leaves the broker holding the 10 shares, so the drift pass
	// finds local and broker quantities equal.
	brk.Positions = []broker.PositionItem{{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 101.25, CurrentPrice: 101.25}}

	rc := NewReconciler(st, fixedResolver{brk}, eventbus.NewMemoryBus(nil), testBotLogger(), 5*time.Minute)
	if err := rc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	resolved, err := st.GetTradeByClientOrderID(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("GetTradeByClientOrderID: %v", err)
	}
	if resolved.Status != models.TradeFilled {
		t.Fatalf("expected trade resolved to filled, got %s", resolved.Status)
	}
	if resolved.Price != 101.25 {
		t.Errorf("expected resolved trade price from the broker fill, got %v", resolved.Price)
	}

	open, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if open == nil {
		t.Fatal("expected position to remain open after a resolved fill")
	}
	if open.EntryPrice != 101.25 {
		t.Errorf("expected position entry price re-anchored to the resolved fill, got %v", open.EntryPrice)
	}
}

func TestReconcilerCancelsStaleUnresolvedBuy(t *testing.T) {
	st := mock.NewStore()
	seedUserWithCredentials(t, st, "user-1")
	st.PutBot(models.Bot{ID: "bot-1", OwnerID: "user-1"})

	brk := mock.NewBroker()
	pos := &models.Position{ID: "pos-1", BotID: "bot-1", Symbol: "AAPL", Quantity: 10, EntryPrice: 100, OpenedAt: time.Now(), IsOpen: true}
	order, err := brk.SubmitMarketOrder(context.Background(), "AAPL", 10, broker.OrderSideBuy, broker.TIFDay, "client-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	trade := &models.Trade{
		ID: "trade-1", BotID: "bot-1", Symbol: "AAPL", Side: models.SideBuy, Quantity: 10,
		Price: 100, Timestamp: time.Now().Add(-10 * time.Minute), BrokerOrderID: order.ID,
		ClientOrderID: "client-1", Status: models.TradeNew,
	}
	if err := st.CreatePendingBuy(context.Background(), trade, pos); err != nil {
		t.Fatalf("seed pending buy: %v", err)
	}
	// order never fills — still new when the reconciler looks at it

	rc := NewReconciler(st, fixedResolver{brk}, eventbus.NewMemoryBus(nil), testBotLogger(), time.Minute)
	if err := rc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	resolved, err := st.GetTradeByClientOrderID(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("GetTradeByClientOrderID: %v", err)
	}
	if resolved.Status != models.TradeCanceled {
		t.Fatalf("expected stale trade canceled, got %s", resolved.Status)
	}

	open, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if open != nil {
		t.Fatal("expected the preliminary position closed once the stale buy was canceled")
	}
}

func TestReconcilerClosesExcessLocalPositionOnDrift(t *testing.T) {
	st := mock.NewStore()
	seedUserWithCredentials(t, st, "user-1")
	st.PutBot(models.Bot{ID: "bot-1", OwnerID: "user-1"})

	brk := mock.NewBroker()
	brk.SetQuote("AAPL", 99, 101)
	// Broker holds nothing; local state believes it holds 10 shares.
	pos := &models.Position{ID: "pos-1", BotID: "bot-1", Symbol: "AAPL", Quantity: 10, EntryPrice: 100, OpenedAt: time.Now(), IsOpen: true}
	seedTrade := &models.Trade{ID: "seed", BotID: "bot-1", Symbol: "AAPL", ClientOrderID: "seed"}
	if err := st.CreatePendingBuy(context.Background(), seedTrade, pos); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rc := NewReconciler(st, fixedResolver{brk}, eventbus.NewMemoryBus(nil), testBotLogger(), 5*time.Minute)
	if err := rc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	open, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if open != nil {
		t.Fatal("expected excess-in-local position auto-closed to match broker reality")
	}
}

func TestReconcilerReportsButNeverAutoSellsExcessInBroker(t *testing.T) {
	st := mock.NewStore()
	seedUserWithCredentials(t, st, "user-1")
	st.PutBot(models.Bot{ID: "bot-1", OwnerID: "user-1"})

	brk := mock.NewBroker()
	brk.SetQuote("AAPL", 99, 101)
	// Local state believes it holds 3 shares; the broker reports 10 — the
	// remaining 7 are excess-in-broker and must only be reported, never sold.
	pos := &models.Position{ID: "pos-1", BotID: "bot-1", Symbol: "AAPL", Quantity: 3, EntryPrice: 100, OpenedAt: time.Now(), IsOpen: true}
	seedTrade := &models.Trade{ID: "seed", BotID: "bot-1", Symbol: "AAPL", ClientOrderID: "seed"}
	if err := st.CreatePendingBuy(context.Background(), seedTrade, pos); err != nil {
		t.Fatalf("seed: %v", err)
	}
	brk.Positions = []broker.PositionItem{{Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 100, CurrentPrice: 100}}

	bus := eventbus.NewMemoryBus(nil)
	ch, cleanup := bus.Subscribe(eventbus.ReconciliationTopic("user-1"))
	defer cleanup()

	rc := NewReconciler(st, fixedResolver{brk}, bus, testBotLogger(), 5*time.Minute)
	if err := rc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	open, err := st.GetOpenPosition(context.Background(), "bot-1", "AAPL")
	if err != nil {
		t.Fatalf("GetOpenPosition: %v", err)
	}
	if open == nil {
		t.Fatal("expected local position left untouched, excess-in-broker is never auto-sold")
	}
	if open.Quantity != 3 {
		t.Fatalf("expected local quantity unchanged at 3, got %d", open.Quantity)
	}

	select {
	case raw := <-ch:
		var evt eventbus.ReconciliationAlert
		if err := json.Unmarshal(raw, &evt); err != nil {
			t.Fatalf("unmarshal reconciliation alert: %v", err)
		}
		if len(evt.Discrepancies) == 0 {
			t.Fatal("expected a non-empty discrepancy list in the reconciliation alert")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a reconciliation_alert to be published for excess-in-broker drift")
	}
}
