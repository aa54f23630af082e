package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/eventbus"
	"github.com/nimbustrade/tradeengine/internal/models"
	"github.com/nimbustrade/tradeengine/internal/store"
	"github.com/nimbustrade/tradeengine/internal/util"
)

// brokerResolver is the slice of the Credentials Service the Reconciler
// (and BotRunner registration) needs: resolving a user's Broker Adapter
// from their stored credentials. *broker.Registry satisfies it.
type brokerResolver interface {
	ForUser(userID string, creds *models.BrokerCredentials) (broker.Broker, bool)
}

// Reconciler resolves pending trades against broker truth and repairs
// position drift. Users are processed in parallel. Within a user's pass
// each store write commits on its own; the pass as a whole is not wrapped
// in one transaction, so a failure part-way leaves the earlier writes in
// place.
type Reconciler struct {
	store    store.Store
	registry brokerResolver
	bus      eventbus.Bus
	logger   logrus.FieldLogger
	staleAge time.Duration
}

// NewReconciler builds a Reconciler.
func NewReconciler(st store.Store, registry brokerResolver, bus eventbus.Bus, logger logrus.FieldLogger, staleAge time.Duration) *Reconciler {
	if staleAge <= 0 {
		staleAge = 5 * time.Minute
	}
	return &Reconciler{store: st, registry: registry, bus: bus, logger: logger, staleAge: staleAge}
}

// RunOnce runs one full pass across every user with broker credentials,
// processing each user's pending trades and position drift in parallel.
func (rc *Reconciler) RunOnce(ctx context.Context) error {
	userIDs, err := rc.store.ListUserIDsWithCredentials(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: list users: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			if err := rc.reconcileUser(gctx, userID); err != nil {
				rc.logger.WithError(err).WithField("user_id", userID).Warn("reconciler: user pass failed")
			}
			return nil // isolate one user's failure from the rest of the pass
		})
	}
	return g.Wait()
}

// RunPeriodic runs RunOnce every period until ctx is canceled.
func (rc *Reconciler) RunPeriodic(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rc.RunOnce(ctx); err != nil {
				rc.logger.WithError(err).Warn("reconciler: periodic pass failed")
			}
		}
	}
}

func (rc *Reconciler) reconcileUser(ctx context.Context, userID string) error {
	creds, err := rc.store.GetBrokerCredentials(ctx, userID)
	if err != nil {
		return fmt.Errorf("get broker credentials: %w", err)
	}
	brk, ok := rc.registry.ForUser(userID, creds)
	if !ok {
		return &ConfigurationMissing{BotID: "", Detail: "no broker available for user " + userID}
	}

	if err := rc.resolvePendingTrades(ctx, userID, brk); err != nil {
		rc.logger.WithError(err).WithField("user_id", userID).Warn("reconciler: pending trade resolution failed")
	}
	if err := rc.repairPositionDrift(ctx, userID, brk); err != nil {
		rc.logger.WithError(err).WithField("user_id", userID).Warn("reconciler: position drift repair failed")
	}
	return nil
}

// resolvePendingTrades implements the §4.5.A pass: every Trade still in a
// non-terminal local status is checked against the broker's order record.
func (rc *Reconciler) resolvePendingTrades(ctx context.Context, userID string, brk broker.Broker) error {
	pending, err := rc.store.ListPendingTradesByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list pending trades: %w", err)
	}

	for i := range pending {
		trade := &pending[i]
		order, err := brk.GetOrder(ctx, trade.BrokerOrderID)
		if err != nil {
			rc.logger.WithError(err).WithField("order_id", trade.BrokerOrderID).Warn("reconciler: broker order lookup failed")
			continue
		}

		if order.Status.IsTerminal() {
			rc.finalizePendingTrade(ctx, trade, order)
			continue
		}

		if time.Since(trade.Timestamp) >= rc.staleAge {
			rc.cancelStaleTrade(ctx, trade, brk)
		}
	}
	return nil
}

func (rc *Reconciler) finalizePendingTrade(ctx context.Context, trade *models.Trade, order *broker.Order) {
	if order.Status == broker.OrderFilled {
		trade.Status = models.TradeFilled
		if order.FilledAvgPrice > 0 {
			trade.Price = order.FilledAvgPrice
		}
		trade.Quantity = order.FilledQty
	} else {
		trade.Status = terminalTradeStatus(order.Status)
	}
	if err := rc.store.UpdateTrade(ctx, trade); err != nil {
		rc.logger.WithError(err).WithField("trade_id", trade.ID).Warn("reconciler: update resolved trade failed")
		return
	}

	pos, err := rc.store.GetOpenPosition(ctx, trade.BotID, trade.Symbol)
	if err != nil || pos == nil {
		return
	}

	switch {
	case trade.Side == models.SideBuy && trade.Status == models.TradeFilled:
		pos.EntryPrice = trade.Price
		pos.CurrentPrice = trade.Price
		if err := rc.store.UpdatePosition(ctx, pos); err != nil {
			rc.logger.WithError(err).Warn("reconciler: re-anchor filled buy position failed")
		}
	case trade.Side == models.SideBuy && trade.Status != models.TradeFilled:
		pos.Close(0, time.Now())
		if err := rc.store.ClosePosition(ctx, pos.ID, 0, *pos.ClosedAt); err != nil {
			rc.logger.WithError(err).Warn("reconciler: close failed-buy position failed")
		}
	case trade.Side == models.SideSell && trade.Status == models.TradeFilled:
		realized := util.RoundToTick((trade.Price-pos.EntryPrice)*float64(pos.Quantity), 0.01)
		if err := rc.store.ClosePosition(ctx, pos.ID, realized, time.Now()); err != nil {
			rc.logger.WithError(err).Warn("reconciler: close filled-sell position failed")
		}
	}

	rc.publishTrade(ctx, trade)
}

func (rc *Reconciler) cancelStaleTrade(ctx context.Context, trade *models.Trade, brk broker.Broker) {
	if err := brk.CancelOrder(ctx, trade.BrokerOrderID); err != nil {
		rc.logger.WithError(err).WithField("order_id", trade.BrokerOrderID).Warn("reconciler: cancel stale order failed")
	}
	trade.Status = models.TradeCanceled
	if err := rc.store.UpdateTrade(ctx, trade); err != nil {
		rc.logger.WithError(err).Warn("reconciler: mark stale trade canceled failed")
		return
	}
	if trade.Side == models.SideBuy {
		if pos, err := rc.store.GetOpenPosition(ctx, trade.BotID, trade.Symbol); err == nil && pos != nil {
			pos.Close(0, time.Now())
			if err := rc.store.ClosePosition(ctx, pos.ID, 0, *pos.ClosedAt); err != nil {
				rc.logger.WithError(err).Warn("reconciler: close stale-buy position failed")
			}
		}
	}
	rc.publishTrade(ctx, trade)
}

// repairPositionDrift implements the §4.5.B pass. Excess-in-broker
// (positions the broker holds that local state doesn't know about) can
// only be reported — the engine has no record of the opening trade and
// cannot safely assume ownership. Excess-in-local is repaired by closing
// the oldest positions first until local quantity no longer exceeds the
// broker's.
func (rc *Reconciler) repairPositionDrift(ctx context.Context, userID string, brk broker.Broker) error {
	brokerPositions, err := brk.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("get broker positions: %w", err)
	}
	brokerQty := make(map[string]int, len(brokerPositions))
	for _, p := range brokerPositions {
		brokerQty[p.Symbol] += p.Quantity
	}

	local, err := rc.store.ListOpenPositionsByUser(ctx, userID, "")
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	localBySymbol := make(map[string][]models.Position)
	for _, p := range local {
		localBySymbol[p.Symbol] = append(localBySymbol[p.Symbol], p)
	}

	symbols := make(map[string]struct{}, len(localBySymbol)+len(brokerQty))
	for symbol := range localBySymbol {
		symbols[symbol] = struct{}{}
	}
	for symbol := range brokerQty {
		symbols[symbol] = struct{}{}
	}

	var discrepancies []string
	for symbol := range symbols {
		positions := localBySymbol[symbol]
		sort.Slice(positions, func(i, j int) bool { return positions[i].OpenedAt.Before(positions[j].OpenedAt) })
		localTotal := 0
		for _, p := range positions {
			localTotal += p.Quantity
		}

		switch {
		case localTotal > brokerQty[symbol]:
			discrepancies = append(discrepancies, fmt.Sprintf("%s: local=%d broker=%d", symbol, localTotal, brokerQty[symbol]))
			excess := localTotal - brokerQty[symbol]
			for _, p := range positions {
				if excess <= 0 {
					break
				}
				if err := rc.store.ClosePosition(ctx, p.ID, 0, time.Now()); err != nil {
					rc.logger.WithError(err).WithField("position_id", p.ID).Warn("reconciler: auto-close drifted position failed")
					continue
				}
				excess -= p.Quantity
			}
		case brokerQty[symbol] > localTotal:
			// Excess-in-broker: never auto-sell, only report.
			discrepancies = append(discrepancies, fmt.Sprintf("%s: local=%d broker=%d", symbol, localTotal, brokerQty[symbol]))
		}
	}

	if len(discrepancies) > 0 && rc.bus != nil {
		evt := eventbus.ReconciliationAlert{UserID: userID, Discrepancies: discrepancies, Timestamp: time.Now()}
		if err := rc.bus.Publish(ctx, eventbus.ReconciliationTopic(userID), evt); err != nil {
			rc.logger.WithError(err).Warn("reconciler: publish reconciliation_alert failed")
		}
	}

	remaining, err := rc.store.ListOpenPositionsByUser(ctx, userID, "")
	if err != nil {
		return fmt.Errorf("list open positions after repair: %w", err)
	}
	for i := range remaining {
		pos := &remaining[i]
		quote, err := brk.GetLatestQuote(ctx, pos.Symbol)
		if err != nil {
			continue
		}
		pos.RecomputeUnrealized(mid(quote.Bid, quote.Ask))
		if err := rc.store.UpdatePosition(ctx, pos); err != nil {
			rc.logger.WithError(err).Warn("reconciler: refresh unrealized pnl failed")
		}
	}
	return nil
}

func (rc *Reconciler) publishTrade(ctx context.Context, t *models.Trade) {
	if rc.bus == nil {
		return
	}
	evt := eventbus.TradeExecuted{
		ID: t.ID, BotID: t.BotID, Symbol: t.Symbol, Type: string(t.Side),
		Quantity: t.Quantity, Price: t.Price, Timestamp: t.Timestamp,
		ProfitLoss: t.ProfitLoss, Status: string(t.Status), OrderID: t.BrokerOrderID,
	}
	if err := rc.bus.Publish(ctx, eventbus.TradeTopic(t.BotID), evt); err != nil {
		rc.logger.WithError(err).Warn("reconciler: publish trade_executed failed")
	}
}
