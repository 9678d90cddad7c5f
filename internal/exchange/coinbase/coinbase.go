// Package coinbase implements core.IExchangeAdapter against Coinbase
// Advanced Trade's REST and WebSocket surface. Concrete request signing
// (HMAC/JWT) is out of scope per §1/§6.1 — Signer is an injectable seam;
// with a nil Signer requests are sent unsigned, and both the bootstrap
// wiring and the tests pass nil.
// Endpoint shapes (product lookup, order placement body, historical
// fills) are grounded on chidi150c-coinbase/broker_coinbase.go; the
// resty-based client construction is grounded on
// 0xtitan6-polymarket-mm/internal/exchange/client.go.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/exchange/base"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/apperrors"
)

const (
	defaultRESTBase = "https://api.coinbase.com"
	defaultWSURL    = "wss://advanced-trade-ws.coinbase.com"
)

// Signer signs an outbound REST request or a WebSocket subscribe frame.
// The wire format (HMAC-SHA256 over timestamp+method+path+body, or a
// CDP JWT, depending on key type) is a concrete authentication detail
// out of scope for this repo (§1); production code injects a real
// implementation.
type Signer interface {
	SignRequest(req *resty.Request, method, path string) error
	SignWSSubscribe(channel string, productIDs []string) (map[string]interface{}, error)
}

// Adapter is the Coinbase Advanced Trade core.IExchangeAdapter.
type Adapter struct {
	*base.Adapter
	signer Signer
	wsURL  string
}

// Options configures a new Adapter.
type Options struct {
	RESTBaseURL       string
	WSURL             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Signer            Signer
}

// New constructs a Coinbase Adapter.
func New(opts Options, logger core.ILogger) *Adapter {
	if opts.RESTBaseURL == "" {
		opts.RESTBaseURL = defaultRESTBase
	}
	if opts.WSURL == "" {
		opts.WSURL = defaultWSURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Burst == 0 {
		opts.Burst = 20
	}

	return &Adapter{
		Adapter: base.NewAdapter("coinbase", opts.RESTBaseURL, opts.Timeout, opts.RequestsPerSecond, opts.Burst, logger),
		signer:  opts.Signer,
		wsURL:   opts.WSURL,
	}
}

func (a *Adapter) signedRequest(ctx context.Context, method, path string) (*resty.Request, error) {
	if err := a.Wait(ctx); err != nil {
		return nil, err
	}
	req := a.HTTP.R().SetContext(ctx)
	if a.signer != nil {
		if err := a.signer.SignRequest(req, method, path); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}
	return req, nil
}

func classifyHTTPError(op string, statusCode int, body string) error {
	if statusCode == 429 || statusCode >= 500 {
		return &apperrors.TransientExchangeError{Op: op, Err: fmt.Errorf("status %d: %s", statusCode, body)}
	}
	return &apperrors.PermanentExchangeError{Op: op, Err: fmt.Errorf("status %d: %s", statusCode, body)}
}

type productResponse struct {
	ProductID      string `json:"product_id"`
	BaseIncrement  string `json:"base_increment"`
	QuoteIncrement string `json:"quote_increment"`
	BaseMinSize    string `json:"base_min_size"`
}

type productsResponse struct {
	Products []productResponse `json:"products"`
}

func (a *Adapter) GetProducts(ctx context.Context) ([]core.ProductInfo, error) {
	req, err := a.signedRequest(ctx, http.MethodGet, "/api/v3/brokerage/products")
	if err != nil {
		return nil, err
	}
	var out productsResponse
	resp, err := req.SetResult(&out).Get("/api/v3/brokerage/products")
	if err != nil {
		return nil, &apperrors.TransientExchangeError{Op: "GetProducts", Err: err}
	}
	if resp.IsError() {
		return nil, classifyHTTPError("GetProducts", resp.StatusCode(), resp.String())
	}

	products := make([]core.ProductInfo, 0, len(out.Products))
	for _, p := range out.Products {
		products = append(products, core.ProductInfo{
			ID:             p.ProductID,
			BaseIncrement:  a.ParseDecimal(p.BaseIncrement),
			QuoteIncrement: a.ParseDecimal(p.QuoteIncrement),
			MinSize:        a.ParseDecimal(p.BaseMinSize),
		})
	}
	return products, nil
}

type accountsResponse struct {
	Accounts []struct {
		Currency         string `json:"currency"`
		AvailableBalance struct {
			Value string `json:"value"`
		} `json:"available_balance"`
	} `json:"accounts"`
}

func (a *Adapter) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := a.signedRequest(ctx, http.MethodGet, "/api/v3/brokerage/accounts")
	if err != nil {
		return nil, err
	}
	var out accountsResponse
	resp, err := req.SetResult(&out).Get("/api/v3/brokerage/accounts")
	if err != nil {
		return nil, &apperrors.TransientExchangeError{Op: "GetBalances", Err: err}
	}
	if resp.IsError() {
		return nil, classifyHTTPError("GetBalances", resp.StatusCode(), resp.String())
	}

	balances := make(map[string]decimal.Decimal, len(out.Accounts))
	for _, acc := range out.Accounts {
		balances[acc.Currency] = a.ParseDecimal(acc.AvailableBalance.Value)
	}
	return balances, nil
}

type productDetailResponse struct {
	Price string `json:"price"`
}

func (a *Adapter) GetTicker(ctx context.Context, marketID string) (decimal.Decimal, error) {
	path := "/api/v3/brokerage/products/" + marketID
	req, err := a.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return decimal.Zero, err
	}
	var out productDetailResponse
	resp, err := req.SetResult(&out).Get(path)
	if err != nil {
		return decimal.Zero, &apperrors.TransientExchangeError{Op: "GetTicker", Err: err}
	}
	if resp.IsError() {
		return decimal.Zero, classifyHTTPError("GetTicker", resp.StatusCode(), resp.String())
	}
	return a.ParseDecimal(out.Price), nil
}

type placeOrderRequest struct {
	ClientOrderID      string                 `json:"client_order_id"`
	ProductID          string                 `json:"product_id"`
	Side               string                 `json:"side"`
	OrderConfiguration map[string]interface{} `json:"order_configuration"`
}

type placeOrderResponse struct {
	Success         bool   `json:"success"`
	OrderID         string `json:"order_id"`
	SuccessResponse struct {
		OrderID string `json:"order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"error_response"`
}

// PlaceLimitOrder is idempotent by clientTag: Coinbase itself de-dupes
// on client_order_id, so a retried call with the same tag returns the
// same order id rather than creating a duplicate.
func (a *Adapter) PlaceLimitOrder(ctx context.Context, marketID string, side core.OrderSide, price, size decimal.Decimal, clientTag string, postOnly bool) (string, error) {
	body := placeOrderRequest{
		ClientOrderID: clientTag,
		ProductID:     marketID,
		Side:          string(side),
		OrderConfiguration: map[string]interface{}{
			"limit_limit_gtc": map[string]interface{}{
				"base_size":   size.String(),
				"limit_price": price.String(),
				"post_only":   postOnly,
			},
		},
	}

	req, err := a.signedRequest(ctx, http.MethodPost, "/api/v3/brokerage/orders")
	if err != nil {
		return "", err
	}
	var out placeOrderResponse
	resp, err := req.SetBody(body).SetResult(&out).Post("/api/v3/brokerage/orders")
	if err != nil {
		return "", &apperrors.TransientExchangeError{Op: "PlaceLimitOrder", Err: err}
	}
	if resp.IsError() {
		return "", classifyHTTPError("PlaceLimitOrder", resp.StatusCode(), resp.String())
	}
	if !out.Success {
		return "", &apperrors.PermanentExchangeError{Op: "PlaceLimitOrder", Err: fmt.Errorf("%s: %s", out.ErrorResponse.Error, out.ErrorResponse.Message)}
	}

	orderID := out.OrderID
	if orderID == "" {
		orderID = out.SuccessResponse.OrderID
	}
	if orderID == "" {
		return "", &apperrors.PermanentExchangeError{Op: "PlaceLimitOrder", Err: fmt.Errorf("exchange returned no order id")}
	}
	return orderID, nil
}

type cancelOrderRequest struct {
	OrderIDs []string `json:"order_ids"`
}

type cancelOrderResponse struct {
	Results []struct {
		Success bool   `json:"success"`
		OrderID string `json:"order_id"`
	} `json:"results"`
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	req, err := a.signedRequest(ctx, http.MethodPost, "/api/v3/brokerage/orders/batch_cancel")
	if err != nil {
		return err
	}
	var out cancelOrderResponse
	resp, err := req.SetBody(cancelOrderRequest{OrderIDs: []string{orderID}}).SetResult(&out).Post("/api/v3/brokerage/orders/batch_cancel")
	if err != nil {
		return &apperrors.TransientExchangeError{Op: "CancelOrder", Err: err}
	}
	if resp.IsError() {
		return classifyHTTPError("CancelOrder", resp.StatusCode(), resp.String())
	}
	for _, r := range out.Results {
		if r.OrderID == orderID && !r.Success {
			return &apperrors.PermanentExchangeError{Op: "CancelOrder", Err: apperrors.ErrOrderNotFound}
		}
	}
	return nil
}

type listOrdersResponse struct {
	Orders []struct {
		OrderID       string `json:"order_id"`
		ClientOrderID string `json:"client_order_id"`
		ProductID     string `json:"product_id"`
		Side          string `json:"side"`
		Status        string `json:"status"`
		CreatedTime   string `json:"created_time"`
		OrderConfiguration struct {
			LimitLimitGTC struct {
				BaseSize   string `json:"base_size"`
				LimitPrice string `json:"limit_price"`
			} `json:"limit_limit_gtc"`
		} `json:"order_configuration"`
	} `json:"orders"`
}

func (a *Adapter) ListOpenOrders(ctx context.Context, marketID string) ([]core.Order, error) {
	path := "/api/v3/brokerage/orders/historical/batch"
	req, err := a.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	req = req.SetQueryParam("order_status", "OPEN")
	if marketID != "" {
		req = req.SetQueryParam("product_id", marketID)
	}

	var out listOrdersResponse
	resp, err := req.SetResult(&out).Get(path)
	if err != nil {
		return nil, &apperrors.TransientExchangeError{Op: "ListOpenOrders", Err: err}
	}
	if resp.IsError() {
		return nil, classifyHTTPError("ListOpenOrders", resp.StatusCode(), resp.String())
	}

	orders := make([]core.Order, 0, len(out.Orders))
	for _, o := range out.Orders {
		side := core.SideBuy
		if o.Side == "SELL" {
			side = core.SideSell
		}
		t, _ := time.Parse(time.RFC3339, o.CreatedTime)
		orders = append(orders, core.Order{
			ID:        o.OrderID,
			ClientTag: o.ClientOrderID,
			MarketID:  o.ProductID,
			Side:      side,
			Price:     a.ParseDecimal(o.OrderConfiguration.LimitLimitGTC.LimitPrice),
			Size:      a.ParseDecimal(o.OrderConfiguration.LimitLimitGTC.BaseSize),
			Status:    core.OrderOpen,
			CreatedAt: t,
		})
	}
	return orders, nil
}

type fillsResponse struct {
	Fills []struct {
		TradeID    string `json:"trade_id"`
		OrderID    string `json:"order_id"`
		ProductID  string `json:"product_id"`
		Side       string `json:"side"`
		Price      string `json:"price"`
		Size       string `json:"size"`
		Commission string `json:"commission"`
		TradeTime  string `json:"trade_time"`
	} `json:"fills"`
}

func (a *Adapter) GetFills(ctx context.Context, since time.Time) ([]core.Fill, error) {
	path := "/api/v3/brokerage/orders/historical/fills"
	req, err := a.signedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if !since.IsZero() {
		req = req.SetQueryParam("start_sequence_timestamp", since.UTC().Format(time.RFC3339))
	}

	var out fillsResponse
	resp, err := req.SetResult(&out).Get(path)
	if err != nil {
		return nil, &apperrors.TransientExchangeError{Op: "GetFills", Err: err}
	}
	if resp.IsError() {
		return nil, classifyHTTPError("GetFills", resp.StatusCode(), resp.String())
	}

	fills := make([]core.Fill, 0, len(out.Fills))
	for _, f := range out.Fills {
		side := core.SideBuy
		if f.Side == "SELL" {
			side = core.SideSell
		}
		t, _ := time.Parse(time.RFC3339, f.TradeTime)
		fills = append(fills, core.Fill{
			ID:        f.TradeID,
			OrderID:   f.OrderID,
			MarketID:  f.ProductID,
			Side:      side,
			Price:     a.ParseDecimal(f.Price),
			Size:      a.ParseDecimal(f.Size),
			Fee:       a.ParseDecimal(f.Commission),
			Timestamp: t,
		})
	}
	return fills, nil
}

type wsTickerEvent struct {
	Channel string `json:"channel"`
	Events  []struct {
		Tickers []struct {
			ProductID string `json:"product_id"`
			Price     string `json:"price"`
		} `json:"tickers"`
	} `json:"events"`
}

// StreamTicker opens (and, on disconnect, reopens) a WebSocket
// subscription to the ticker channel for marketID, delivering
// at-least-once per §6.1. It blocks until ctx is canceled.
func (a *Adapter) StreamTicker(ctx context.Context, marketID string, cb func(decimal.Decimal, time.Time)) error {
	return a.runWSLoop(ctx, "ticker", []string{marketID}, func(raw []byte) {
		var evt wsTickerEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			a.Logger.Warn("failed to decode ticker frame", "error", err)
			return
		}
		now := time.Now()
		for _, e := range evt.Events {
			for _, t := range e.Tickers {
				cb(a.ParseDecimal(t.Price), now)
			}
		}
	})
}

type wsUserEvent struct {
	Channel string `json:"channel"`
	Events  []struct {
		Orders []struct {
			OrderID            string `json:"order_id"`
			ProductID          string `json:"product_id"`
			OrderSide          string `json:"order_side"`
			CumulativeQuantity string `json:"cumulative_quantity"`
			AveragePrice       string `json:"avg_price"`
			TotalFees          string `json:"total_fees"`
			Status             string `json:"status"`
		} `json:"orders"`
	} `json:"events"`
}

// StreamFills subscribes to the user (order-status) channel and
// synthesizes a Fill whenever an order's cumulative filled quantity
// advances; at-least-once delivery per §6.1 (the Reconciler's
// historical-fill replay is the source of truth if a frame is missed).
func (a *Adapter) StreamFills(ctx context.Context, cb func(core.Fill)) error {
	seen := make(map[string]decimal.Decimal)
	return a.runWSLoop(ctx, "user", nil, func(raw []byte) {
		var evt wsUserEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			a.Logger.Warn("failed to decode user-channel frame", "error", err)
			return
		}
		now := time.Now()
		for _, e := range evt.Events {
			for _, o := range e.Orders {
				cum := a.ParseDecimal(o.CumulativeQuantity)
				prior := seen[o.OrderID]
				if cum.LessThanOrEqual(prior) {
					continue
				}
				delta := cum.Sub(prior)
				seen[o.OrderID] = cum

				side := core.SideBuy
				if o.OrderSide == "SELL" {
					side = core.SideSell
				}
				cb(core.Fill{
					ID:        uuid.NewString(),
					OrderID:   o.OrderID,
					MarketID:  o.ProductID,
					Side:      side,
					Price:     a.ParseDecimal(o.AveragePrice),
					Size:      delta,
					Fee:       a.ParseDecimal(o.TotalFees),
					Timestamp: now,
				})
			}
		}
	})
}

// runWSLoop owns the connect/subscribe/read/reconnect lifecycle shared by
// StreamTicker and StreamFills: a dropped connection is transient and is
// retried with simple fixed backoff until ctx is canceled.
func (a *Adapter) runWSLoop(ctx context.Context, channel string, productIDs []string, onMessage func([]byte)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := a.runWSOnce(ctx, channel, productIDs, onMessage)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.Logger.Warn("websocket stream disconnected, reconnecting", "channel", channel, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (a *Adapter) runWSOnce(ctx context.Context, channel string, productIDs []string, onMessage func([]byte)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"type":        "subscribe",
		"channel":     channel,
		"product_ids": productIDs,
	}
	if a.signer != nil {
		signed, err := a.signer.SignWSSubscribe(channel, productIDs)
		if err != nil {
			return fmt.Errorf("sign subscribe: %w", err)
		}
		for k, v := range signed {
			sub[k] = v
		}
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		onMessage(raw)
	}
}

var _ core.IExchangeAdapter = (*Adapter)(nil)
