package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nimbustrade/tradeengine/internal/activity"
	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/eventbus"
	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/nimbustrade/tradeengine/internal/orders"
	"github.com/nimbustrade/tradeengine/internal/store"
)

// Config tunes the Supervisor and the components it owns.
type Config struct {
	MarketMonitorPeriod time.Duration
	ReconcilerPeriod    time.Duration
	ConsecutiveErrorCap int
	FillPollAttempts    int
	FillPollInterval    time.Duration
	StalePendingAge     time.Duration
}

// Supervisor is the Trading Engine's composition root at runtime: it owns
// the bot registry, the Market Monitor and the Reconciler, and is the
// single writer of each BotRunner's membership in the registry.
type Supervisor struct {
	store       store.Store
	registry    brokerResolver
	marketBroker broker.Broker
	bus         eventbus.Bus
	activity    *activity.Logger
	logger      logrus.FieldLogger
	cfg         Config

	mu      sync.Mutex
	runners map[string]*BotRunner

	marketOpen atomic.Bool
	running    atomic.Bool

	cancelBackground context.CancelFunc
	bgWg             sync.WaitGroup

	reconciler *Reconciler
}

// NewSupervisor builds a Supervisor. marketBroker drives the Market
// Monitor's clock polling and is independent of the per-user adapters the
// registry constructs for order execution.
func NewSupervisor(
	st store.Store,
	registry brokerResolver,
	marketBroker broker.Broker,
	bus eventbus.Bus,
	act *activity.Logger,
	logger logrus.FieldLogger,
	cfg Config,
) *Supervisor {
	if cfg.ConsecutiveErrorCap <= 0 {
		cfg.ConsecutiveErrorCap = 5
	}
	if cfg.MarketMonitorPeriod <= 0 {
		cfg.MarketMonitorPeriod = 60 * time.Second
	}
	if cfg.ReconcilerPeriod <= 0 {
		cfg.ReconcilerPeriod = 300 * time.Second
	}
	if cfg.StalePendingAge <= 0 {
		cfg.StalePendingAge = 5 * time.Minute
	}
	return &Supervisor{
		store:        st,
		registry:     registry,
		marketBroker: marketBroker,
		bus:          bus,
		activity:     act,
		logger:       logger,
		cfg:          cfg,
		runners:      make(map[string]*BotRunner),
		reconciler:   NewReconciler(st, registry, bus, logger, cfg.StalePendingAge),
	}
}

// MarketOpen reports the last-observed market clock state. Implements
// marketStatusReader for every BotRunner the Supervisor owns.
func (s *Supervisor) MarketOpen() bool { return s.marketOpen.Load() }

// Start is idempotent. It refreshes market status synchronously once,
// spawns the Market Monitor and Reconciler loops, runs one startup
// reconciliation pass to completion, then registers every bot currently
// persisted as running. One bad bot's registration failure never blocks
// the rest.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel

	if clock, err := s.marketBroker.GetClock(ctx); err == nil {
		s.marketOpen.Store(clock.IsOpen)
	} else {
		s.logger.WithError(err).Warn("supervisor: initial market clock check failed, assuming closed")
	}

	monitor := NewMarketMonitor(s.marketBroker, s.bus, s.logger, s.cfg.MarketMonitorPeriod, func(isOpen bool) {
		s.marketOpen.Store(isOpen)
	})
	s.bgWg.Add(1)
	go func() {
		defer s.bgWg.Done()
		monitor.Run(bgCtx)
	}()

	if err := s.reconciler.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Warn("supervisor: startup reconciliation failed, continuing with existing local data")
	}
	s.bgWg.Add(1)
	go func() {
		defer s.bgWg.Done()
		s.reconciler.RunPeriodic(bgCtx, s.cfg.ReconcilerPeriod)
	}()

	bots, err := s.store.ListBotsByStatus(ctx, models.BotRunning)
	if err != nil {
		return fmt.Errorf("supervisor: list running bots: %w", err)
	}
	for i := range bots {
		botID := bots[i].ID
		if err := s.registerBot(ctx, botID); err != nil {
			s.logger.WithError(err).WithField("bot_id", botID).Warn("supervisor: bot registration failed at startup")
		}
	}
	return nil
}

// Stop cancels every BotRunner in parallel, then the Market Monitor and
// Reconciler loops, and waits for all background work to finish.
func (s *Supervisor) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	runners := make([]*BotRunner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.runners = make(map[string]*BotRunner)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		g.Go(func() error { return r.Stop(gctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.WithError(err).Warn("supervisor: one or more bot runners failed to stop cleanly")
	}

	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	s.bgWg.Wait()
	return nil
}

// RegisterBot starts a runner for botID, or returns nil if one already
// exists. Exported for the Request Surface's start-bot operation.
func (s *Supervisor) RegisterBot(ctx context.Context, botID string) error {
	return s.registerBot(ctx, botID)
}

func (s *Supervisor) registerBot(ctx context.Context, botID string) error {
	s.mu.Lock()
	if _, exists := s.runners[botID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("supervisor: get bot %s: %w", botID, err)
	}

	creds, err := s.store.GetBrokerCredentials(ctx, bot.OwnerID)
	if err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("owner_id", bot.OwnerID).Warn("supervisor: no broker credentials on file, falling back to default broker")
	}
	brk, ok := s.registry.ForUser(bot.OwnerID, creds)
	if !ok {
		if s.activity != nil {
			s.activity.Warn(ctx, botID, "lifecycle", "bot registration skipped: no broker available", nil)
		}
		return &ConfigurationMissing{BotID: botID, Detail: "no broker credentials and no default broker configured"}
	}

	runner := NewBotRunner(bot, s.store, brk, s.bus, s.activity, s, s.logger, s.cfg.ConsecutiveErrorCap,
		orders.Config{PollAttempts: s.cfg.FillPollAttempts, PollInterval: s.cfg.FillPollInterval})

	s.mu.Lock()
	if _, exists := s.runners[botID]; exists {
		s.mu.Unlock()
		return nil
	}
	s.runners[botID] = runner
	s.mu.Unlock()

	if err := runner.Start(ctx); err != nil {
		s.mu.Lock()
		delete(s.runners, botID)
		s.mu.Unlock()
		return fmt.Errorf("supervisor: start runner for bot %s: %w", botID, err)
	}
	return nil
}

// UnregisterBot removes botID's runner from the registry and waits for it
// to stop.
func (s *Supervisor) UnregisterBot(ctx context.Context, botID string) error {
	s.mu.Lock()
	runner, ok := s.runners[botID]
	if ok {
		delete(s.runners, botID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return runner.Stop(ctx)
}

// PauseBot flips a paused flag on botID's runner without tearing it down.
func (s *Supervisor) PauseBot(botID string) error {
	s.mu.Lock()
	runner, ok := s.runners[botID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: no runner for bot %s", botID)
	}
	return runner.Pause()
}

// ResumeBot flips a runner's paused flag back off.
func (s *Supervisor) ResumeBot(botID string) error {
	s.mu.Lock()
	runner, ok := s.runners[botID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: no runner for bot %s", botID)
	}
	return runner.Resume()
}

// BotTodayPnL delegates to the store's realized-P&L aggregate for botID
// since the start of the current Eastern Time trading day.
func (s *Supervisor) BotTodayPnL(ctx context.Context, botID string) (float64, error) {
	return s.store.BotTodayRealizedPnL(ctx, botID, startOfDayET(time.Now()))
}

// BotOpenPositionCount delegates to the store's open-position count.
func (s *Supervisor) BotOpenPositionCount(ctx context.Context, botID string) (int, error) {
	return s.store.BotOpenPositionCount(ctx, botID)
}

// RunnerState reports a bot's in-memory runner state, or RunnerStopped if
// no runner is currently registered.
func (s *Supervisor) RunnerState(botID string) models.BotRunnerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runners[botID]; ok {
		return r.State()
	}
	return models.RunnerStopped
}
