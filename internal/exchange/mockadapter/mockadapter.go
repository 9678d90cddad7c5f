// Package mockadapter implements core.IExchangeAdapter entirely in
// memory, matching §6.1's "MockAdapter variant simulates fills
// deterministically against the live ticker stream for paper mode".
// place/cancel are local-only and idempotent by client_tag; no network
// calls are made. Grounded on the teacher's internal/mock mock-executor
// shape, generalized from a one-shot market-order fill to a resting
// limit-order book that crosses against an externally-fed ticker.
package mockadapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/apperrors"
)

// restingOrder is a limit order waiting to cross.
type restingOrder struct {
	order     core.Order
	clientTag string
}

// Adapter is the in-memory paper-trading exchange.
type Adapter struct {
	mu sync.Mutex

	logger core.ILogger

	products map[string]core.ProductInfo
	balances map[string]decimal.Decimal

	lastPrice   map[string]decimal.Decimal
	resting     map[string]*restingOrder // orderID -> order
	byClientTag map[string]string        // clientTag -> orderID

	fills      []core.Fill
	fillSubs   []func(core.Fill)
	tickerSubs map[string][]func(decimal.Decimal, time.Time)

	feeRate decimal.Decimal // flat maker fee rate applied to simulated fills
}

// Config configures a new Adapter.
type Config struct {
	Products        []core.ProductInfo
	InitialBalances map[string]decimal.Decimal
	FeeRate         decimal.Decimal // default 0.004 (40bps) if zero
}

// New constructs a paper-trading Adapter.
func New(cfg Config, logger core.ILogger) *Adapter {
	products := make(map[string]core.ProductInfo, len(cfg.Products))
	for _, p := range cfg.Products {
		products[p.ID] = p
	}

	balances := make(map[string]decimal.Decimal, len(cfg.InitialBalances))
	for k, v := range cfg.InitialBalances {
		balances[k] = v
	}

	feeRate := cfg.FeeRate
	if feeRate.IsZero() {
		feeRate = decimal.NewFromFloat(0.004)
	}

	return &Adapter{
		logger:      logger.With("exchange", "mock"),
		products:    products,
		balances:    balances,
		lastPrice:   make(map[string]decimal.Decimal),
		resting:     make(map[string]*restingOrder),
		byClientTag: make(map[string]string),
		tickerSubs:  make(map[string][]func(decimal.Decimal, time.Time)),
		feeRate:     feeRate,
	}
}

func (a *Adapter) GetProducts(ctx context.Context) ([]core.ProductInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.ProductInfo, 0, len(a.products))
	for _, p := range a.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Adapter) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(a.balances))
	for k, v := range a.balances {
		out[k] = v
	}
	return out, nil
}

func (a *Adapter) GetTicker(ctx context.Context, marketID string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.lastPrice[marketID]
	if !ok {
		return decimal.Zero, &apperrors.TransientExchangeError{Op: "GetTicker", Err: fmt.Errorf("no ticker seen yet for %s", marketID)}
	}
	return p, nil
}

// PlaceLimitOrder is idempotent by clientTag (§6.1): a repeat call with a
// tag already seen returns the existing order id without creating a
// second resting order.
func (a *Adapter) PlaceLimitOrder(ctx context.Context, marketID string, side core.OrderSide, price, size decimal.Decimal, clientTag string, postOnly bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existingID, ok := a.byClientTag[clientTag]; ok {
		return existingID, nil
	}

	if postOnly {
		if last, ok := a.lastPrice[marketID]; ok {
			if (side == core.SideBuy && price.GreaterThanOrEqual(last)) ||
				(side == core.SideSell && price.LessThanOrEqual(last)) {
				return "", &apperrors.PermanentExchangeError{Op: "PlaceLimitOrder", Err: fmt.Errorf("post-only order would cross the spread at price %s (last %s)", price, last)}
			}
		}
	}

	id := uuid.NewString()
	a.resting[id] = &restingOrder{
		order: core.Order{
			ID:        id,
			ClientTag: clientTag,
			MarketID:  marketID,
			Side:      side,
			Price:     price,
			Size:      size,
			Status:    core.OrderOpen,
			CreatedAt: time.Now(),
		},
		clientTag: clientTag,
	}
	a.byClientTag[clientTag] = id
	return id, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.resting[orderID]; !ok {
		return &apperrors.PermanentExchangeError{Op: "CancelOrder", Err: apperrors.ErrOrderNotFound}
	}
	delete(a.resting, orderID)
	return nil
}

func (a *Adapter) ListOpenOrders(ctx context.Context, marketID string) ([]core.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []core.Order
	for _, r := range a.resting {
		if marketID == "" || r.order.MarketID == marketID {
			out = append(out, r.order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Adapter) GetFills(ctx context.Context, since time.Time) ([]core.Fill, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []core.Fill
	for _, f := range a.fills {
		if f.Timestamp.After(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

// StreamTicker registers cb to be invoked every time FeedTicker is called
// for marketID; it blocks until ctx is canceled, matching the interface's
// blocking-stream contract.
func (a *Adapter) StreamTicker(ctx context.Context, marketID string, cb func(decimal.Decimal, time.Time)) error {
	a.mu.Lock()
	a.tickerSubs[marketID] = append(a.tickerSubs[marketID], cb)
	a.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

// StreamFills registers cb to be invoked for every simulated fill; blocks
// until ctx is canceled.
func (a *Adapter) StreamFills(ctx context.Context, cb func(core.Fill)) error {
	a.mu.Lock()
	a.fillSubs = append(a.fillSubs, cb)
	a.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

// FeedTicker is the paper-mode price driver: it updates the last price
// for marketID, notifies ticker subscribers, and crosses any resting
// orders the new price would fill (deterministic: an order fills the
// first tick whose price reaches or passes its limit price).
func (a *Adapter) FeedTicker(marketID string, price decimal.Decimal, ts time.Time) {
	a.mu.Lock()
	a.lastPrice[marketID] = price
	subs := append([]func(decimal.Decimal, time.Time){}, a.tickerSubs[marketID]...)

	var crossed []*restingOrder
	for _, r := range a.resting {
		if r.order.MarketID != marketID {
			continue
		}
		if r.order.Side == core.SideBuy && price.LessThanOrEqual(r.order.Price) {
			crossed = append(crossed, r)
		}
		if r.order.Side == core.SideSell && price.GreaterThanOrEqual(r.order.Price) {
			crossed = append(crossed, r)
		}
	}
	sort.Slice(crossed, func(i, j int) bool { return crossed[i].order.ID < crossed[j].order.ID })

	var newFills []core.Fill
	for _, r := range crossed {
		delete(a.resting, r.order.ID)
		delete(a.byClientTag, r.clientTag)

		fill := core.Fill{
			ID:        uuid.NewString(),
			OrderID:   r.order.ID,
			MarketID:  marketID,
			Side:      r.order.Side,
			Price:     r.order.Price,
			Size:      r.order.Size,
			Fee:       r.order.Price.Mul(r.order.Size).Mul(a.feeRate),
			Timestamp: ts,
		}
		a.fills = append(a.fills, fill)
		newFills = append(newFills, fill)
		a.applyBalanceDelta(marketID, fill)
	}
	fillSubs := append([]func(core.Fill){}, a.fillSubs...)
	a.mu.Unlock()

	for _, cb := range subs {
		cb(price, ts)
	}
	for _, f := range newFills {
		for _, cb := range fillSubs {
			cb(f)
		}
	}
}

// applyBalanceDelta keeps the paper balances internally consistent so
// CAPITAL_PCT sizing has a believable available-capital figure to size
// against. Caller holds a.mu.
func (a *Adapter) applyBalanceDelta(marketID string, f core.Fill) {
	notional := f.Price.Mul(f.Size)
	base := baseAssetOf(marketID)
	switch f.Side {
	case core.SideBuy:
		a.balances["USD"] = a.balances["USD"].Sub(notional).Sub(f.Fee)
		a.balances[base] = a.balances[base].Add(f.Size)
	case core.SideSell:
		a.balances["USD"] = a.balances["USD"].Add(notional).Sub(f.Fee)
		a.balances[base] = a.balances[base].Sub(f.Size)
	}
}

// baseAssetOf extracts "BTC" from "BTC-USD"; mock-only convenience, real
// adapters get this from get_products.
func baseAssetOf(marketID string) string {
	for i := 0; i < len(marketID); i++ {
		if marketID[i] == '-' {
			return marketID[:i]
		}
	}
	return marketID
}

var _ core.IExchangeAdapter = (*Adapter)(nil)
