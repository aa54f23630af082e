package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/activity"
	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/eventbus"
	"github.com/nimbustrade/tradeengine/internal/indicators"
	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/nimbustrade/tradeengine/internal/orders"
	"github.com/nimbustrade/tradeengine/internal/risk"
	"github.com/nimbustrade/tradeengine/internal/store"
	"github.com/nimbustrade/tradeengine/internal/util"
)

// defaultBarTimeframe is the bar granularity fetched for indicator
// evaluation. The source leaves timeframe unspecified; 5-minute bars give
// every configured indicator meaningful history within a single trading
// session without the request volume of 1-minute bars.
const defaultBarTimeframe = "5Min"

// marketStatusReader is the slice of Supervisor a BotRunner needs: the
// last-observed market clock state. Defined narrow so tests can supply a
// stub without building a full Supervisor.
type marketStatusReader interface {
	MarketOpen() bool
}

// BotRunner drives one bot's cycle: skip checks, stop-loss/take-profit
// monitoring, then the per-symbol entry/exit pipeline.
type BotRunner struct {
	bot        *models.Bot
	store      store.Store
	broker     broker.Broker
	orders     *orders.Manager
	indicators *indicators.Set
	bus        eventbus.Bus
	activity   *activity.Logger
	market     marketStatusReader
	logger     logrus.FieldLogger

	errorCap int
	period   time.Duration

	mu      sync.Mutex
	state   *models.RunnerStateMachine
	paused  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBotRunner builds a BotRunner for bot, scoped to the owner's broker.
func NewBotRunner(
	bot *models.Bot,
	st store.Store,
	brk broker.Broker,
	bus eventbus.Bus,
	act *activity.Logger,
	market marketStatusReader,
	logger logrus.FieldLogger,
	errorCap int,
	ordersCfg ...orders.Config,
) *BotRunner {
	period := time.Duration(bot.PeriodSecs) * time.Second
	if period <= 0 {
		period = 30 * time.Second
	}
	return &BotRunner{
		bot:        bot,
		store:      st,
		broker:     brk,
		orders:     orders.NewManager(brk, st, bus, logger, ordersCfg...),
		indicators: indicators.Build(bot.Indicators, logger),
		bus:        bus,
		activity:   act,
		market:     market,
		logger:     logger.WithField("bot_id", bot.ID),
		errorCap:   errorCap,
		period:     period,
		state:      models.NewRunnerStateMachine(),
		done:       make(chan struct{}),
	}
}

// State returns the runner's current lifecycle state.
func (r *BotRunner) State() models.BotRunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Current()
}

// Start transitions Idle->Running and spawns the cycle loop.
func (r *BotRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if err := r.state.Transition(models.RunnerRunning, "start"); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.loop(runCtx)
	return nil
}

// Pause flips the paused flag without tearing down the loop.
func (r *BotRunner) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.Transition(models.RunnerPaused, "pause"); err != nil {
		return err
	}
	r.paused.Store(true)
	return nil
}

// Resume flips the paused flag back off.
func (r *BotRunner) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.Transition(models.RunnerRunning, "resume"); err != nil {
		return err
	}
	r.paused.Store(false)
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (r *BotRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	current := r.state.Current()
	if current == models.RunnerStopped || current == models.RunnerErrored {
		r.mu.Unlock()
		return nil
	}
	if err := r.state.Transition(models.RunnerStopping, "stop"); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Transition(models.RunnerStopped, "exited")
}

func (r *BotRunner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.paused.Load() {
				continue
			}
			if r.runCycle(ctx) {
				return // escaped to Errored, loop must not continue
			}
		}
	}
}

// runCycle runs one cycle and reports whether the runner escaped to the
// Errored state (in which case the loop must stop).
func (r *BotRunner) runCycle(ctx context.Context) (errored bool) {
	err := r.cycle(ctx)
	if err == nil {
		if updErr := r.store.ResetBotError(ctx, r.bot.ID); updErr != nil {
			r.logger.WithError(updErr).Warn("botrunner: reset error counter failed")
		}
		if touchErr := r.store.TouchBotLastRun(ctx, r.bot.ID, time.Now()); touchErr != nil {
			r.logger.WithError(touchErr).Warn("botrunner: touch last_run_at failed")
		}
		return false
	}

	r.logger.WithError(err).Warn("botrunner: cycle failed")
	count, incErr := r.store.IncrementBotError(ctx, r.bot.ID)
	if incErr != nil {
		r.logger.WithError(incErr).Error("botrunner: increment error counter failed")
		return false
	}
	if r.activity != nil {
		r.activity.Warn(ctx, r.bot.ID, "cycle", "cycle failed", map[string]interface{}{"error": err.Error(), "consecutive_errors": count})
	}
	if count < r.errorCap {
		return false
	}

	r.mu.Lock()
	transErr := r.state.Transition(models.RunnerErrored, "error_cap_reached")
	r.mu.Unlock()
	if transErr != nil {
		r.logger.WithError(transErr).Error("botrunner: failed to transition to errored")
		return false
	}

	if updErr := r.store.UpdateBotStatus(ctx, r.bot.ID, models.BotError); updErr != nil {
		r.logger.WithError(updErr).Error("botrunner: persist error status failed")
	}
	if r.bus != nil {
		errs := count
		evt := eventbus.BotStatusChanged{ID: r.bot.ID, Status: string(models.BotError), IsActive: false, ErrorCount: &errs}
		if pubErr := r.bus.Publish(ctx, eventbus.BotStatusTopic(r.bot.ID), evt); pubErr != nil {
			r.logger.WithError(pubErr).Warn("botrunner: publish bot_status_changed failed")
		}
	}
	if r.activity != nil {
		r.activity.Error(ctx, r.bot.ID, "lifecycle", "consecutive error cap reached, bot stopped", map[string]interface{}{"consecutive_errors": count})
	}
	return true
}

func (r *BotRunner) cycle(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &InternalFailure{Op: "cycle", Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	minutesOfDay, err := util.MinutesOfDayET(time.Now())
	if err != nil {
		return &InternalFailure{Op: "resolve_trading_window", Err: err}
	}
	if !r.bot.Window.Contains(minutesOfDay) {
		return nil
	}
	if r.market != nil && !r.market.MarketOpen() {
		return nil
	}

	if err := r.monitorOpenPositions(ctx); err != nil {
		return err
	}

	for _, symbol := range r.bot.Symbols {
		if err := r.runSymbol(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}

// monitorOpenPositions checks every open position against its stop-loss
// and take-profit levels, closing on a breach, and otherwise refreshes the
// unrealized P&L against the latest quote.
func (r *BotRunner) monitorOpenPositions(ctx context.Context) error {
	positions, err := r.store.ListOpenPositionsByBot(ctx, r.bot.ID)
	if err != nil {
		return &InternalFailure{Op: "list_open_positions", Err: err}
	}

	for i := range positions {
		pos := &positions[i]
		quote, err := r.broker.GetLatestQuote(ctx, pos.Symbol)
		if err != nil {
			r.logger.WithError(err).WithField("symbol", pos.Symbol).Warn("botrunner: quote fetch failed during position monitoring")
			continue
		}
		price := mid(quote.Bid, quote.Ask)

		switch {
		case pos.StopLossPrice != nil && price <= *pos.StopLossPrice:
			if err := r.orders.ExecuteSell(ctx, r.bot, pos, price, "Stop-loss triggered"); err != nil {
				return &TransientBrokerError{Op: "execute_stop_loss_sell", Err: err}
			}
		case pos.TakeProfitPrice != nil && price >= *pos.TakeProfitPrice:
			if err := r.orders.ExecuteSell(ctx, r.bot, pos, price, "Take-profit triggered"); err != nil {
				return &TransientBrokerError{Op: "execute_take_profit_sell", Err: err}
			}
		default:
			pos.RecomputeUnrealized(price)
			if err := r.store.UpdatePosition(ctx, pos); err != nil {
				r.logger.WithError(err).Warn("botrunner: refresh unrealized pnl failed")
			}
		}
	}
	return nil
}

// runSymbol runs the entry/exit pipeline for one symbol: an open position
// is checked for an exit signal from the indicator that opened it; no
// position checks every configured indicator for the first BUY.
func (r *BotRunner) runSymbol(ctx context.Context, symbol string) error {
	pos, err := r.store.GetOpenPosition(ctx, r.bot.ID, symbol)
	if err != nil {
		return &InternalFailure{Op: "get_open_position", Err: err}
	}

	required := r.indicators.MaxRequiredBars()
	if required == 0 {
		return nil
	}
	brokerBars, err := r.broker.GetBars(ctx, symbol, defaultBarTimeframe, required, time.Time{})
	if err != nil {
		return &TransientBrokerError{Op: "get_bars", Err: err}
	}
	bars := make([]models.Bar, len(brokerBars))
	for i, b := range brokerBars {
		bars[i] = models.Bar(b)
	}
	signals := r.indicators.EvaluateAll(bars)

	if pos != nil {
		return r.runExit(ctx, pos, signals)
	}
	return r.runEntry(ctx, symbol, signals)
}

func (r *BotRunner) runExit(ctx context.Context, pos *models.Position, signals []indicators.NamedSignal) error {
	var signal indicators.Signal
	var source string
	if pos.EntryIndicator == "" {
		signal = indicators.MajorityVote(signals)
		source = "majority_vote"
	} else {
		signal = indicators.SignalFor(signals, pos.EntryIndicator)
		source = pos.EntryIndicator
	}
	if signal != indicators.Sell {
		return nil
	}

	quote, err := r.broker.GetLatestQuote(ctx, pos.Symbol)
	if err != nil {
		return &TransientBrokerError{Op: "get_latest_quote", Err: err}
	}
	price := mid(quote.Bid, quote.Ask)
	if err := r.orders.ExecuteSell(ctx, r.bot, pos, price, fmt.Sprintf("%s sell signal", source)); err != nil {
		return &TransientBrokerError{Op: "execute_sell", Err: err}
	}
	return nil
}

func (r *BotRunner) runEntry(ctx context.Context, symbol string, signals []indicators.NamedSignal) error {
	name, ok := indicators.FirstBuy(signals)
	if !ok {
		return nil
	}

	quote, err := r.broker.GetLatestQuote(ctx, symbol)
	if err != nil {
		return &TransientBrokerError{Op: "get_latest_quote", Err: err}
	}
	price := mid(quote.Bid, quote.Ask)

	startOfDay := startOfDayET(time.Now())
	todayPnL, err := r.store.BotTodayRealizedPnL(ctx, r.bot.ID, startOfDay)
	if err != nil {
		return &InternalFailure{Op: "today_realized_pnl", Err: err}
	}
	openCount, err := r.store.BotOpenPositionCount(ctx, r.bot.ID)
	if err != nil {
		return &InternalFailure{Op: "open_position_count", Err: err}
	}

	decision := risk.Evaluate(indicators.Buy, r.bot.Risk, r.bot.Capital, price, todayPnL, openCount)
	if !decision.Allowed {
		if r.activity != nil {
			r.activity.Info(ctx, r.bot.ID, "risk", "entry blocked", map[string]interface{}{"symbol": symbol, "reason": decision.Reason})
		}
		return nil
	}

	qty := risk.PositionSize(r.bot.Capital, r.bot.Risk.MaxPositionSizePct, price)
	if qty <= 0 {
		return nil
	}
	sl := risk.StopLossPrice(price, r.bot.Risk.StopLossPct)
	tp := risk.TakeProfitPrice(price, r.bot.Risk.TakeProfitPct)

	_, _, err = r.orders.ExecuteBuy(ctx, orders.BuyParams{
		Bot: r.bot, Symbol: symbol, Quantity: qty, LastPrice: price,
		StopLossPrice: sl, TakeProfitPrice: tp, EntryIndicator: name,
	})
	if err != nil {
		return &TransientBrokerError{Op: "execute_buy", Err: err}
	}
	return nil
}

func mid(bid, ask float64) float64 { return (bid + ask) / 2 }

func startOfDayET(t time.Time) time.Time {
	loc, err := util.EasternLocation()
	if err != nil {
		loc = time.UTC
	}
	et := t.In(loc)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, loc)
}
