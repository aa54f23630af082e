// Package orders implements the order-execution sequence that gives the
// engine its core anti-duplication guarantee: a symbol with a
// pending-but-unfilled BUY must never trigger a second BUY. BUY records a
// pending Trade and Position before the fill is known; SELL submits first
// and only mutates local state once the outcome is known.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/eventbus"
	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/nimbustrade/tradeengine/internal/store"
	"github.com/nimbustrade/tradeengine/internal/util"
)

// Config tunes the fill-polling loop.
type Config struct {
	PollAttempts int
	PollInterval time.Duration
}

// DefaultConfig polls for 30 seconds before falling back to the Reconciler.
var DefaultConfig = Config{PollAttempts: 30, PollInterval: time.Second}

// Manager executes BUY and SELL orders against a single user's broker,
// applying the anti-duplication sequencing and emitting the resulting
// trade_executed/position_updated events.
type Manager struct {
	broker broker.Broker
	store  store.Store
	bus    eventbus.Bus
	logger logrus.FieldLogger
	config Config
}

// NewManager builds an order Manager. broker and store are user-scoped;
// the caller (BotRunner) owns their lifetimes.
func NewManager(brk broker.Broker, st store.Store, bus eventbus.Bus, logger logrus.FieldLogger, config ...Config) *Manager {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultConfig.PollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	return &Manager{broker: brk, store: st, bus: bus, logger: logger, config: cfg}
}

// NewClientOrderID returns a globally-unique, bot-originated idempotency
// token, used as the broker's client_order_id and the reconciliation key.
func NewClientOrderID(botID string) string {
	prefix := botID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("bot-%s-%s", prefix, uuid.NewString())
}

// BuyParams carries everything the entry path has already computed: the
// risk-sized quantity, the last-observed price (used as the preliminary
// entry price), and the stop-loss/take-profit levels derived from it.
type BuyParams struct {
	Bot             *models.Bot
	Symbol          string
	Quantity        int
	LastPrice       float64
	StopLossPrice   float64
	TakeProfitPrice float64
	EntryIndicator  string
}

// ExecuteBuy submits the order, records the pending Trade+Position before
// the fill is known, then polls for a terminal outcome.
func (m *Manager) ExecuteBuy(ctx context.Context, p BuyParams) (*models.Trade, *models.Position, error) {
	if p.Quantity <= 0 {
		return nil, nil, errors.New("orders: buy quantity must be positive")
	}

	clientOrderID := NewClientOrderID(p.Bot.ID)
	order, err := m.broker.SubmitMarketOrder(ctx, p.Symbol, p.Quantity, broker.OrderSideBuy, broker.TIFDay, clientOrderID)
	if err != nil {
		return nil, nil, fmt.Errorf("orders: submit buy: %w", err)
	}

	now := time.Now()
	slOffset := p.LastPrice - p.StopLossPrice
	tpOffset := p.TakeProfitPrice - p.LastPrice
	stopLoss := p.StopLossPrice
	takeProfit := p.TakeProfitPrice
	trade := &models.Trade{
		ID:            uuid.NewString(),
		BotID:         p.Bot.ID,
		Symbol:        p.Symbol,
		Side:          models.SideBuy,
		Quantity:      p.Quantity,
		Price:         p.LastPrice,
		Timestamp:     now,
		BrokerOrderID: order.ID,
		ClientOrderID: clientOrderID,
		Status:        models.TradeNew,
		Reason:        "entry_signal",
	}
	pos := &models.Position{
		ID:              uuid.NewString(),
		BotID:           p.Bot.ID,
		Symbol:          p.Symbol,
		Quantity:        p.Quantity,
		EntryPrice:      p.LastPrice,
		CurrentPrice:    p.LastPrice,
		StopLossPrice:   &stopLoss,
		TakeProfitPrice: &takeProfit,
		OpenedAt:        now,
		IsOpen:          true,
		EntryIndicator:  p.EntryIndicator,
	}

	// Commits before the fill is awaited — the load-bearing step that
	// makes the next cycle of this bot see an open Position and refuse a
	// second BUY.
	if err := m.store.CreatePendingBuy(ctx, trade, pos); err != nil {
		return nil, nil, fmt.Errorf("orders: record pending buy: %w", err)
	}
	m.publishTrade(ctx, trade)
	m.publishPosition(ctx, pos)

	final, polled := m.pollOrder(ctx, order.ID)
	if !polled {
		m.logger.WithFields(logrus.Fields{"bot_id": p.Bot.ID, "symbol": p.Symbol, "order_id": order.ID}).
			Info("orders: buy fill still pending after poll budget, leaving for reconciler")
		return trade, pos, nil
	}

	if final.Status == broker.OrderFilled {
		if final.FilledAvgPrice <= 0 {
			m.logger.WithFields(logrus.Fields{"bot_id": p.Bot.ID, "order_id": order.ID}).
				Error("orders: filled buy order missing fill price, keeping pending record for manual review")
			return trade, pos, nil
		}
		trade.Status = models.TradeFilled
		trade.Price = final.FilledAvgPrice
		trade.Quantity = final.FilledQty
		pos.EntryPrice = final.FilledAvgPrice
		pos.CurrentPrice = final.FilledAvgPrice
		// Re-anchor stop-loss/take-profit to the actual fill price, preserving
		// the distance the preliminary levels were computed at.
		sl := pos.EntryPrice - slOffset
		tp := pos.EntryPrice + tpOffset
		pos.StopLossPrice = &sl
		pos.TakeProfitPrice = &tp

		if err := m.store.UpdateTrade(ctx, trade); err != nil {
			return trade, pos, fmt.Errorf("orders: update filled trade: %w", err)
		}
		if err := m.store.UpdatePosition(ctx, pos); err != nil {
			return trade, pos, fmt.Errorf("orders: update filled position: %w", err)
		}
	} else {
		trade.Status = terminalTradeStatus(final.Status)
		if err := m.store.UpdateTrade(ctx, trade); err != nil {
			return trade, pos, fmt.Errorf("orders: update failed trade: %w", err)
		}
		pos.Close(0, time.Now())
		if err := m.store.ClosePosition(ctx, pos.ID, 0, *pos.ClosedAt); err != nil {
			return trade, pos, fmt.Errorf("orders: close failed-buy position: %w", err)
		}
	}

	m.publishTrade(ctx, trade)
	m.publishPosition(ctx, pos)
	return trade, pos, nil
}

// ExecuteSell submits an order first; Trade and Position are mutated only
// once the outcome is known. A terminal non-fill leaves the Position open.
func (m *Manager) ExecuteSell(ctx context.Context, bot *models.Bot, pos *models.Position, lastPrice float64, reason string) error {
	clientOrderID := NewClientOrderID(bot.ID)
	order, err := m.broker.SubmitMarketOrder(ctx, pos.Symbol, pos.Quantity, broker.OrderSideSell, broker.TIFDay, clientOrderID)
	if err != nil {
		return fmt.Errorf("orders: submit sell: %w", err)
	}

	final, polled := m.pollOrder(ctx, order.ID)
	if !polled {
		m.logger.WithFields(logrus.Fields{"bot_id": bot.ID, "symbol": pos.Symbol, "order_id": order.ID}).
			Info("orders: sell fill still pending after poll budget, leaving for reconciler")
		return nil
	}

	trade := &models.Trade{
		ID:            uuid.NewString(),
		BotID:         bot.ID,
		Symbol:        pos.Symbol,
		Side:          models.SideSell,
		Quantity:      pos.Quantity,
		Timestamp:     time.Now(),
		BrokerOrderID: order.ID,
		ClientOrderID: clientOrderID,
		Reason:        reason,
	}

	if final.Status == broker.OrderFilled {
		fillPrice := final.FilledAvgPrice
		if fillPrice <= 0 {
			// Fill-price missing on a SELL is best-effort: fall back to the
			// last-observed price rather than blocking the close.
			fillPrice = lastPrice
		}
		realized := util.RoundToTick((fillPrice-pos.EntryPrice)*float64(pos.Quantity), 0.01)
		trade.Status = models.TradeFilled
		trade.Price = fillPrice
		trade.ProfitLoss = &realized

		if err := m.store.CreateTrade(ctx, trade); err != nil {
			return fmt.Errorf("orders: record sell trade: %w", err)
		}
		if err := m.store.ClosePosition(ctx, pos.ID, realized, time.Now()); err != nil {
			return fmt.Errorf("orders: close sold position: %w", err)
		}
		pos.Close(realized, time.Now())
	} else {
		trade.Status = terminalTradeStatus(final.Status)
		trade.Price = lastPrice
		if err := m.store.CreateTrade(ctx, trade); err != nil {
			return fmt.Errorf("orders: record failed sell trade: %w", err)
		}
	}

	m.publishTrade(ctx, trade)
	m.publishPosition(ctx, pos)
	return nil
}

// pollOrder polls the broker for a terminal order status, returning
// (status, true) on a terminal outcome or (nil, false) if the poll budget
// is exhausted first.
func (m *Manager) pollOrder(ctx context.Context, orderID string) (*broker.Order, bool) {
	for attempt := 0; attempt < m.config.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		order, err := m.broker.GetOrder(ctx, orderID)
		if err != nil {
			m.logger.WithError(err).WithField("order_id", orderID).Warn("orders: poll order status failed, retrying")
		} else if order.Status.IsTerminal() {
			return order, true
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(m.config.PollInterval):
		}
	}
	return nil, false
}

func terminalTradeStatus(s broker.OrderStatus) models.TradeStatus {
	switch s {
	case broker.OrderCanceled:
		return models.TradeCanceled
	case broker.OrderExpired:
		return models.TradeExpired
	case broker.OrderRejected:
		return models.TradeRejected
	default:
		return models.TradeRejected
	}
}

func (m *Manager) publishTrade(ctx context.Context, t *models.Trade) {
	if m.bus == nil {
		return
	}
	evt := eventbus.TradeExecuted{
		ID: t.ID, BotID: t.BotID, Symbol: t.Symbol, Type: string(t.Side),
		Quantity: t.Quantity, Price: t.Price, Timestamp: t.Timestamp,
		ProfitLoss: t.ProfitLoss, Status: string(t.Status), OrderID: t.BrokerOrderID,
	}
	if err := m.bus.Publish(ctx, eventbus.TradeTopic(t.BotID), evt); err != nil {
		m.logger.WithError(err).Warn("orders: publish trade_executed failed")
	}
}

func (m *Manager) publishPosition(ctx context.Context, p *models.Position) {
	if m.bus == nil {
		return
	}
	evt := eventbus.PositionUpdated{
		ID: p.ID, BotID: p.BotID, Symbol: p.Symbol, Quantity: p.Quantity,
		EntryPrice: p.EntryPrice, CurrentPrice: p.CurrentPrice,
		StopLossPrice: p.StopLossPrice, TakeProfitPrice: p.TakeProfitPrice,
		UnrealizedPnL: p.UnrealizedPnL, RealizedPnL: p.RealizedPnL,
		OpenedAt: p.OpenedAt, ClosedAt: p.ClosedAt, IsOpen: p.IsOpen,
		EntryIndicator: p.EntryIndicator,
	}
	if err := m.bus.Publish(ctx, eventbus.PositionTopic(p.BotID), evt); err != nil {
		m.logger.WithError(err).Warn("orders: publish position_updated failed")
	}
}
