package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nimbustrade/tradeengine/internal/broker"
	"github.com/nimbustrade/tradeengine/internal/eventbus"
)

// MarketMonitor polls a single broker clock on a fixed period and reports
// open/closed transitions. It never blocks BotRunner cycles: a failed poll
// is logged and retried on the next tick rather than propagated.
type MarketMonitor struct {
	broker broker.Broker
	bus    eventbus.Bus
	logger logrus.FieldLogger
	period time.Duration

	onChange func(isOpen bool)
}

// NewMarketMonitor builds a Market Monitor. onChange is invoked once per
// observed open/closed transition, including the first poll.
func NewMarketMonitor(brk broker.Broker, bus eventbus.Bus, logger logrus.FieldLogger, period time.Duration, onChange func(isOpen bool)) *MarketMonitor {
	return &MarketMonitor{broker: brk, bus: bus, logger: logger, period: period, onChange: onChange}
}

// Poll checks the broker clock once and returns whether the market is open.
func (m *MarketMonitor) Poll(ctx context.Context) (isOpen bool, err error) {
	clock, err := m.broker.GetClock(ctx)
	if err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

// Run polls every m.period until ctx is canceled, invoking onChange on each
// observed transition. A poll failure backs off for at least 10 seconds
// before the next attempt, never surfacing the error past this loop.
func (m *MarketMonitor) Run(ctx context.Context) {
	var last bool
	haveLast := false

	poll := func() {
		isOpen, err := m.Poll(ctx)
		if err != nil {
			m.logger.WithError(err).Warn("market monitor: clock poll failed, will retry")
			return
		}
		if !haveLast || isOpen != last {
			last = isOpen
			haveLast = true
			m.onChange(isOpen)
			if m.bus != nil {
				evt := eventbus.MarketStatusChanged{IsOpen: isOpen}
				if pubErr := m.bus.Publish(ctx, eventbus.MarketStatusTopic(), evt); pubErr != nil {
					m.logger.WithError(pubErr).Warn("market monitor: publish market_status_changed failed")
				}
			}
		}
	}

	poll()

	ticker := time.NewTicker(m.backoffAware(m.period))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// backoffAware floors the poll period at 10s, matching the minimum the
// configuration layer already enforces for MarketMonitorPeriod.
func (m *MarketMonitor) backoffAware(period time.Duration) time.Duration {
	if period < 10*time.Second {
		return 10 * time.Second
	}
	return period
}
