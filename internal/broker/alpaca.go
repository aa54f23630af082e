package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nimbustrade/tradeengine/internal/retry"
)

// AlpacaClient is a REST client for an Alpaca-style equities brokerage API.
// It implements Broker directly; production deployments wrap it in a
// CircuitBreakerAdapter (see circuitbreaker.go). Each request is retried
// through retryClient, which only retries errors classified as transient.
type AlpacaClient struct {
	client      *http.Client
	retryClient *retry.Client
	baseURL     string
	apiKey      string
	secret      string
}

// NewAlpacaClient constructs a client against baseURL, authenticating with
// the given key/secret pair (sent as APCA-API-KEY-ID/APCA-API-SECRET-KEY
// headers, Alpaca's convention).
func NewAlpacaClient(baseURL, apiKey, secret string, timeout time.Duration) *AlpacaClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AlpacaClient{
		client:      &http.Client{Timeout: timeout},
		retryClient: retry.NewClient(nil),
		baseURL:     baseURL,
		apiKey:      apiKey,
		secret:      secret,
	}
}

func (a *AlpacaClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody []byte
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = buf
	}

	return a.retryClient.Do(ctx, method+" "+path, func() error {
		var reader io.Reader
		if reqBody != nil {
			reader = bytes.NewReader(reqBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("APCA-API-KEY-ID", a.apiKey)
		req.Header.Set("APCA-API-SECRET-KEY", a.secret)
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("performing request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}

		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Body: string(respBody)}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
		}
		return nil
	})
}

type accountWire struct {
	Equity      string `json:"equity"`
	BuyingPower string `json:"buying_power"`
	Cash        string `json:"cash"`
}

// GetAccount returns the total account equity, buying power and cash.
func (a *AlpacaClient) GetAccount(ctx context.Context) (*Account, error) {
	var wire accountWire
	if err := a.doJSON(ctx, http.MethodGet, "/v2/account", nil, &wire); err != nil {
		return nil, err
	}
	equity, _ := strconv.ParseFloat(wire.Equity, 64)
	bp, _ := strconv.ParseFloat(wire.BuyingPower, 64)
	cash, _ := strconv.ParseFloat(wire.Cash, 64)
	return &Account{Equity: equity, BuyingPower: bp, Cash: cash}, nil
}

type clockWire struct {
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// GetClock reports whether the market is open.
func (a *AlpacaClient) GetClock(ctx context.Context) (*Clock, error) {
	var wire clockWire
	if err := a.doJSON(ctx, http.MethodGet, "/v2/clock", nil, &wire); err != nil {
		return nil, err
	}
	return &Clock{IsOpen: wire.IsOpen, NextOpen: wire.NextOpen, NextClose: wire.NextClose}, nil
}

type quoteWire struct {
	Quote struct {
		BidPrice  float64   `json:"bp"`
		AskPrice  float64   `json:"ap"`
		Timestamp time.Time `json:"t"`
	} `json:"quote"`
}

// GetLatestQuote fetches the current bid/ask for a symbol.
func (a *AlpacaClient) GetLatestQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	var wire quoteWire
	path := fmt.Sprintf("/v2/stocks/%s/quotes/latest", url.PathEscape(symbol))
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	return &QuoteItem{
		Symbol: symbol,
		Bid:    wire.Quote.BidPrice,
		Ask:    wire.Quote.AskPrice,
		Ts:     wire.Quote.Timestamp,
	}, nil
}

type barWire struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type barsWire struct {
	Bars []barWire `json:"bars"`
}

// GetBars fetches OHLCV bars for a symbol starting at start, capped at limit.
func (a *AlpacaClient) GetBars(ctx context.Context, symbol, timeframe string, limit int, start time.Time) ([]Bar, error) {
	q := url.Values{}
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))
	if !start.IsZero() {
		q.Set("start", start.UTC().Format(time.RFC3339))
	}
	path := fmt.Sprintf("/v2/stocks/%s/bars?%s", url.PathEscape(symbol), q.Encode())

	var wire barsWire
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	bars := make([]Bar, 0, len(wire.Bars))
	for _, b := range wire.Bars {
		bars = append(bars, Bar{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return bars, nil
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           int    `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id"`
}

type orderWire struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Qty            string    `json:"qty"`
	FilledQty      string    `json:"filled_qty"`
	FilledAvgPrice string    `json:"filled_avg_price"`
	Status         string    `json:"status"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

func (o orderWire) toOrder() *Order {
	qty, _ := strconv.Atoi(o.Qty)
	filledQty, _ := strconv.Atoi(o.FilledQty)
	filledAvg, _ := strconv.ParseFloat(o.FilledAvgPrice, 64)
	return &Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           OrderSide(o.Side),
		Quantity:       qty,
		FilledQty:      filledQty,
		FilledAvgPrice: filledAvg,
		Status:         OrderStatus(o.Status),
		SubmittedAt:    o.SubmittedAt,
	}
}

// SubmitMarketOrder submits a market order tagged with clientOrderID, the
// idempotency key used throughout the anti-duplication contract.
func (a *AlpacaClient) SubmitMarketOrder(
	ctx context.Context, symbol string, qty int, side OrderSide, tif TimeInForce, clientOrderID string,
) (*Order, error) {
	req := orderRequest{
		Symbol:        symbol,
		Qty:           qty,
		Side:          string(side),
		Type:          "market",
		TimeInForce:   string(tif),
		ClientOrderID: clientOrderID,
	}
	var wire orderWire
	if err := a.doJSON(ctx, http.MethodPost, "/v2/orders", req, &wire); err != nil {
		return nil, err
	}
	return wire.toOrder(), nil
}

// GetOrder fetches the current broker-side state of a previously submitted order.
func (a *AlpacaClient) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var wire orderWire
	path := fmt.Sprintf("/v2/orders/%s", url.PathEscape(orderID))
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	return wire.toOrder(), nil
}

// CancelOrder requests cancellation of a still-open order.
func (a *AlpacaClient) CancelOrder(ctx context.Context, orderID string) error {
	path := fmt.Sprintf("/v2/orders/%s", url.PathEscape(orderID))
	return a.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

type positionWire struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
}

// GetPositions fetches all broker-side open positions for the account.
func (a *AlpacaClient) GetPositions(ctx context.Context) ([]PositionItem, error) {
	var wire []positionWire
	if err := a.doJSON(ctx, http.MethodGet, "/v2/positions", nil, &wire); err != nil {
		return nil, err
	}
	items := make([]PositionItem, 0, len(wire))
	for _, p := range wire {
		qty, _ := strconv.Atoi(p.Qty)
		avg, _ := strconv.ParseFloat(p.AvgEntryPrice, 64)
		cur, _ := strconv.ParseFloat(p.CurrentPrice, 64)
		items = append(items, PositionItem{
			Symbol:        p.Symbol,
			Quantity:      qty,
			AvgEntryPrice: avg,
			CurrentPrice:  cur,
		})
	}
	return items, nil
}

// ClosePosition liquidates the broker's entire position in symbol.
func (a *AlpacaClient) ClosePosition(ctx context.Context, symbol string) (*Order, error) {
	var wire orderWire
	path := fmt.Sprintf("/v2/positions/%s", url.PathEscape(symbol))
	if err := a.doJSON(ctx, http.MethodDelete, path, nil, &wire); err != nil {
		return nil, err
	}
	return wire.toOrder(), nil
}

var _ Broker = (*AlpacaClient)(nil)
