package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimbustrade/tradeengine/internal/broker"
)

// Broker is a fully scriptable broker.Broker double. Orders submitted
// through it are held at OrderNew until the test advances them with
// FillOrder/RejectOrder, letting tests exercise the pending-fill window the
// anti-duplication contract depends on.
type Broker struct {
	mu sync.Mutex

	Account Account
	Open    bool
	Quotes  map[string]broker.QuoteItem
	Bars    map[string][]broker.Bar

	orders    map[string]*broker.Order
	orderSeq  int
	Positions []broker.PositionItem

	// GetLatestQuoteErr, when set, is returned by GetLatestQuote for every call.
	GetLatestQuoteErr error
	SubmitOrderErr    error

	// AutoFill, when true, marks every submitted order filled immediately
	// at AutoFillPrice — lets tests exercise the fill-known path without
	// racing a background goroutine against the poller.
	AutoFill      bool
	AutoFillPrice float64
}

type Account = broker.Account

// NewBroker returns a Broker with an open market and an empty book.
func NewBroker() *Broker {
	return &Broker{
		Account: Account{Equity: 100000, BuyingPower: 100000, Cash: 100000},
		Open:    true,
		Quotes:  make(map[string]broker.QuoteItem),
		Bars:    make(map[string][]broker.Bar),
		orders:  make(map[string]*broker.Order),
	}
}

// SetQuote fixes the latest quote for symbol.
func (b *Broker) SetQuote(symbol string, bid, ask float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Quotes[symbol] = broker.QuoteItem{Symbol: symbol, Bid: bid, Ask: ask, Ts: time.Now()}
}

// SetBars fixes the bar history returned for symbol.
func (b *Broker) SetBars(symbol string, bars []broker.Bar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Bars[symbol] = bars
}

func (b *Broker) GetAccount(_ context.Context) (*broker.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc := b.Account
	return &acc, nil
}

func (b *Broker) GetClock(_ context.Context) (*broker.Clock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &broker.Clock{IsOpen: b.Open}, nil
}

func (b *Broker) GetLatestQuote(_ context.Context, symbol string) (*broker.QuoteItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.GetLatestQuoteErr != nil {
		return nil, b.GetLatestQuoteErr
	}
	q, ok := b.Quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("mock broker: no quote for %s", symbol)
	}
	return &q, nil
}

func (b *Broker) GetBars(_ context.Context, symbol string, _ string, limit int, _ time.Time) ([]broker.Bar, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bars := b.Bars[symbol]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (b *Broker) SubmitMarketOrder(_ context.Context, symbol string, qty int, side broker.OrderSide, _ broker.TimeInForce, clientOrderID string) (*broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SubmitOrderErr != nil {
		return nil, b.SubmitOrderErr
	}
	b.orderSeq++
	order := &broker.Order{
		ID:            fmt.Sprintf("mock-order-%d", b.orderSeq),
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		Status:        broker.OrderNew,
		SubmittedAt:   time.Now(),
	}
	if b.AutoFill {
		order.Status = broker.OrderFilled
		order.FilledQty = order.Quantity
		order.FilledAvgPrice = b.AutoFillPrice
	}
	b.orders[order.ID] = order
	cp := *order
	return &cp, nil
}

// LastOrderID returns the broker order id most recently submitted, or ""
// if none has been submitted yet.
func (b *Broker) LastOrderID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.orderSeq == 0 {
		return ""
	}
	return fmt.Sprintf("mock-order-%d", b.orderSeq)
}

func (b *Broker) GetOrder(_ context.Context, orderID string) (*broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("mock broker: unknown order %s", orderID)
	}
	cp := *order
	return &cp, nil
}

func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("mock broker: unknown order %s", orderID)
	}
	order.Status = broker.OrderCanceled
	return nil
}

func (b *Broker) GetPositions(_ context.Context) ([]broker.PositionItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broker.PositionItem(nil), b.Positions...), nil
}

func (b *Broker) ClosePosition(_ context.Context, symbol string) (*broker.Order, error) {
	return b.SubmitMarketOrder(context.Background(), symbol, 0, broker.OrderSideSell, broker.TIFDay, fmt.Sprintf("bot-close-%s", symbol))
}

// FillOrder marks orderID filled at price, as if the broker matched it.
func (b *Broker) FillOrder(orderID string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if order, ok := b.orders[orderID]; ok {
		order.Status = broker.OrderFilled
		order.FilledQty = order.Quantity
		order.FilledAvgPrice = price
	}
}

// RejectOrder marks orderID with a terminal non-fill status.
func (b *Broker) RejectOrder(orderID string, status broker.OrderStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if order, ok := b.orders[orderID]; ok {
		order.Status = status
	}
}

var _ broker.Broker = (*Broker)(nil)
