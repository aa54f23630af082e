package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryBusDeliversToSubscriber(t *testing.T) {
	bus := NewMemoryBus(nil)
	ch, cleanup := bus.Subscribe(TradeTopic("bot-1"))
	defer cleanup()

	want := TradeExecuted{ID: "t1", BotID: "bot-1", Symbol: "AAPL", Type: "buy"}
	if err := bus.Publish(context.Background(), TradeTopic("bot-1"), want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case raw := <-ch:
		var got TradeExecuted
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBusDropsWhenNoSubscriber(t *testing.T) {
	bus := NewMemoryBus(nil)
	if err := bus.Publish(context.Background(), MarketStatusTopic(), MarketStatusChanged{IsOpen: true}); err != nil {
		t.Fatalf("publish with no subscribers should not error: %v", err)
	}
}

func TestMemoryBusCleanupStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(nil)
	ch, cleanup := bus.Subscribe(MarketStatusTopic())
	cleanup()

	if err := bus.Publish(context.Background(), MarketStatusTopic(), MarketStatusChanged{IsOpen: false}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after cleanup")
	}
}
