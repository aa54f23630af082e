package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimbustrade/tradeengine/internal/activity"
	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/eventbus"
	"github.com/nimbustrade/tradeengine/internal/mock"
	"github.com/nimbustrade/tradeengine/internal/models"
)

func TestSupervisorStartRegistersRunningBotsAndStops(t *testing.T) {
	st := mock.NewStore()
	seedUserWithCredentials(t, st, "user-1")
	bot := testBot(fullDayWindow())
	bot.Status = models.BotRunning
	st.PutBot(*bot)

	brk := mock.NewBroker()
	brk.SetBars("AAPL", descendingBars(4, 105))
	brk.SetQuote("AAPL", 99.5, 100.5)

	sup := NewSupervisor(st, fixedResolver{brk}, brk, eventbus.NewMemoryBus(nil), activity.NewLogger(st, nil), testBotLogger(), Config{
		MarketMonitorPeriod: 10 * time.Second,
		ReconcilerPeriod:    time.Hour,
		ConsecutiveErrorCap: 5,
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := sup.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()

	if sup.RunnerState("bot-1") == models.RunnerStopped {
		t.Fatal("expected the running bot to have an active runner after Start")
	}
	if !sup.MarketOpen() {
		t.Error("expected market open to be synced from the broker clock on Start")
	}

	if err := sup.PauseBot("bot-1"); err != nil {
		t.Fatalf("PauseBot: %v", err)
	}
	if err := sup.ResumeBot("bot-1"); err != nil {
		t.Fatalf("ResumeBot: %v", err)
	}
}

func TestSupervisorRegisterBotSkipsWithoutCredentials(t *testing.T) {
	st := mock.NewStore()
	bot := testBot(fullDayWindow())
	st.PutBot(*bot) // no credentials seeded for the owner

	sup := NewSupervisor(st, fakeEmptyResolver{}, mock.NewBroker(), eventbus.NewMemoryBus(nil), activity.NewLogger(st, nil), testBotLogger(), Config{})

	err := sup.RegisterBot(context.Background(), "bot-1")
	var cfgErr *ConfigurationMissing
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationMissing, got %v", err)
	}
	if sup.RunnerState("bot-1") != models.RunnerStopped {
		t.Error("expected no runner registered when credentials are missing")
	}
}

type fakeEmptyResolver struct{}

func (fakeEmptyResolver) ForUser(string, *models.BrokerCredentials) (broker.Broker, bool) {
	return nil, false
}
