package lot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/grid"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/apperrors"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})       {}
func (noopLogger) Info(string, ...interface{})        {}
func (noopLogger) Warn(string, ...interface{})        {}
func (noopLogger) Error(string, ...interface{})       {}
func (l noopLogger) With(...interface{}) core.ILogger { return l }

type fakeStore struct {
	lots       map[string]core.Lot // by ID
	ordersByID map[string]core.Order
	fills      []core.Fill
}

func newFakeStore() *fakeStore {
	return &fakeStore{lots: map[string]core.Lot{}, ordersByID: map[string]core.Order{}}
}

func (s *fakeStore) GetConfig(context.Context) (core.Config, error)            { return core.Config{}, nil }
func (s *fakeStore) PutConfig(context.Context, core.Config) error              { return nil }
func (s *fakeStore) GetMarket(context.Context, string) (core.Market, error)    { return core.Market{}, nil }
func (s *fakeStore) ListMarkets(context.Context) ([]core.Market, error)        { return nil, nil }
func (s *fakeStore) GetActiveMarket(context.Context) (core.Market, bool, error) {
	return core.Market{}, false, nil
}
func (s *fakeStore) UpsertMarket(context.Context, core.Market) error { return nil }
func (s *fakeStore) SetActiveMarket(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (s *fakeStore) GetBotState(context.Context, string) (core.BotState, error) {
	return core.BotState{}, nil
}
func (s *fakeStore) PutBotState(context.Context, core.BotState) error { return nil }
func (s *fakeStore) GetOrder(context.Context, string) (core.Order, bool, error) {
	return core.Order{}, false, nil
}
func (s *fakeStore) GetOrderByClientTag(context.Context, string) (core.Order, bool, error) {
	return core.Order{}, false, nil
}
func (s *fakeStore) ListOpenOrders(context.Context, string) ([]core.Order, error) { return nil, nil }
func (s *fakeStore) ListOrders(context.Context, string, core.OrderStatus, int, int) ([]core.Order, error) {
	return nil, nil
}
func (s *fakeStore) UpsertOrder(_ context.Context, o core.Order) error {
	s.ordersByID[o.ID] = o
	return nil
}
func (s *fakeStore) InsertFill(_ context.Context, f core.Fill) error {
	s.fills = append(s.fills, f)
	return nil
}
func (s *fakeStore) ListFillsSince(context.Context, string, time.Time) ([]core.Fill, error) {
	return nil, nil
}
func (s *fakeStore) ListFillsByOrderID(_ context.Context, orderID string) ([]core.Fill, error) {
	var out []core.Fill
	for _, f := range s.fills {
		if f.OrderID == orderID {
			out = append(out, f)
		}
	}
	return out, nil
}
func (s *fakeStore) ListFills(context.Context, int, int) ([]core.Fill, error) { return s.fills, nil }
func (s *fakeStore) GetLot(_ context.Context, id string) (core.Lot, bool, error) {
	l, ok := s.lots[id]
	return l, ok, nil
}
func (s *fakeStore) GetLotByBuyOrderID(_ context.Context, buyOrderID string) (core.Lot, bool, error) {
	for _, l := range s.lots {
		if l.BuyOrderID == buyOrderID {
			return l, true, nil
		}
	}
	return core.Lot{}, false, nil
}
func (s *fakeStore) GetLotBySellOrderID(_ context.Context, sellOrderID string) (core.Lot, bool, error) {
	for _, l := range s.lots {
		if l.SellOrderID == sellOrderID {
			return l, true, nil
		}
	}
	return core.Lot{}, false, nil
}
func (s *fakeStore) ListOpenLots(_ context.Context, marketID string) ([]core.Lot, error) {
	var out []core.Lot
	for _, l := range s.lots {
		if l.MarketID == marketID && l.Status != core.LotClosed {
			out = append(out, l)
		}
	}
	return out, nil
}
func (s *fakeStore) ListLots(context.Context, int, int) ([]core.Lot, error) {
	var out []core.Lot
	for _, l := range s.lots {
		out = append(out, l)
	}
	return out, nil
}
func (s *fakeStore) UpsertLot(_ context.Context, l core.Lot) error {
	s.lots[l.ID] = l
	return nil
}
func (s *fakeStore) InsertAuditLog(context.Context, core.AuditLogEntry) error { return nil }
func (s *fakeStore) Close() error                                            { return nil }

type fakeExchange struct {
	placeErr  error
	nextID    string
	lastPrice decimal.Decimal
	lastSize  decimal.Decimal
	placeCalls int
}

func (f *fakeExchange) GetProducts(context.Context) ([]core.ProductInfo, error) { return nil, nil }
func (f *fakeExchange) GetBalances(context.Context) (map[string]decimal.Decimal, error) {
	return nil, nil
}
func (f *fakeExchange) GetTicker(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeExchange) PlaceLimitOrder(_ context.Context, _ string, _ core.OrderSide, price, size decimal.Decimal, _ string, _ bool) (string, error) {
	f.placeCalls++
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.lastPrice = price
	f.lastSize = size
	if f.nextID == "" {
		return "order-1", nil
	}
	return f.nextID, nil
}
func (f *fakeExchange) CancelOrder(context.Context, string) error               { return nil }
func (f *fakeExchange) ListOpenOrders(context.Context, string) ([]core.Order, error) { return nil, nil }
func (f *fakeExchange) GetFills(context.Context, time.Time) ([]core.Fill, error) {
	return nil, nil
}
func (f *fakeExchange) StreamTicker(ctx context.Context, _ string, _ func(decimal.Decimal, time.Time)) error {
	<-ctx.Done()
	return ctx.Err()
}
func (f *fakeExchange) StreamFills(ctx context.Context, _ func(core.Fill)) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeBus struct{ events []core.BusEvent }

func (b *fakeBus) Publish(evt core.BusEvent) { b.events = append(b.events, evt) }
func (b *fakeBus) Subscribe() (<-chan core.BusEvent, func()) {
	ch := make(chan core.BusEvent)
	return ch, func() {}
}

func testConfig() core.Config {
	return core.Config{
		GridStepPct:  decimal.NewFromFloat(0.01),
		ProfitMode:   core.ProfitStep,
		FeeBufferPct: decimal.Zero,
	}
}

func TestOnBuyFill_CreatesLotAndPlacesSell(t *testing.T) {
	st := newFakeStore()
	ex := &fakeExchange{nextID: "sell-order-1"}
	bus := &fakeBus{}
	m := NewManager(st, ex, grid.NewPlanner(), bus, noopLogger{})

	f := core.Fill{ID: "f1", OrderID: "buy-1", MarketID: "BTC-USD", Side: core.SideBuy, Price: decimal.NewFromInt(100), Size: decimal.NewFromFloat(0.5), Timestamp: time.Now()}
	require.NoError(t, m.OnBuyFill(context.Background(), f, testConfig()))

	lot, found, err := st.GetLotByBuyOrderID(context.Background(), "buy-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, core.LotSellPlaced, lot.Status)
	assert.Equal(t, "sell-order-1", lot.SellOrderID)
	assert.True(t, ex.lastPrice.Equal(decimal.NewFromInt(101)), "sell price should be buy*1.01: %s", ex.lastPrice)
	assert.True(t, ex.lastSize.Equal(f.Size))
}

func TestOnBuyFill_IsIdempotentForDuplicateFillEvents(t *testing.T) {
	st := newFakeStore()
	ex := &fakeExchange{}
	m := NewManager(st, ex, grid.NewPlanner(), &fakeBus{}, noopLogger{})

	f := core.Fill{OrderID: "buy-1", MarketID: "BTC-USD", Side: core.SideBuy, Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)}
	require.NoError(t, m.OnBuyFill(context.Background(), f, testConfig()))
	require.NoError(t, m.OnBuyFill(context.Background(), f, testConfig()))

	assert.Equal(t, 1, ex.placeCalls, "a repeated buy fill for the same order must not place a second sell")
}

func TestOnBuyFill_SellLeftOpenWhenPlacementFailsTransiently(t *testing.T) {
	st := newFakeStore()
	ex := &fakeExchange{placeErr: &apperrors.TransientExchangeError{Op: "place", Err: apperrors.ErrRateLimitExceeded}}
	m := NewManager(st, ex, grid.NewPlanner(), &fakeBus{}, noopLogger{})

	f := core.Fill{OrderID: "buy-1", MarketID: "BTC-USD", Side: core.SideBuy, Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)}
	// Should not return an error: the Lot is never abandoned, just left OPEN.
	require.NoError(t, m.OnBuyFill(context.Background(), f, testConfig()))

	lot, found, err := st.GetLotByBuyOrderID(context.Background(), "buy-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, core.LotOpen, lot.Status)
	assert.Empty(t, lot.SellOrderID)
}

func TestOnBuyFill_RejectsFeeUndercuttingSell(t *testing.T) {
	st := newFakeStore()
	ex := &fakeExchange{}
	m := NewManager(st, ex, grid.NewPlanner(), &fakeBus{}, noopLogger{})

	cfg := testConfig()
	// CUSTOM profit mode configured with a negative margin produces a sell
	// price below the buy price, which must never clear I3's fee floor
	// regardless of fee_buffer_pct.
	cfg.ProfitMode = core.ProfitCustom
	cfg.CustomProfitPct = decimal.NewFromFloat(-0.05)

	f := core.Fill{OrderID: "buy-1", MarketID: "BTC-USD", Side: core.SideBuy, Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)}
	require.NoError(t, m.OnBuyFill(context.Background(), f, cfg))

	lot, found, err := st.GetLotByBuyOrderID(context.Background(), "buy-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, core.LotOpen, lot.Status, "I3: a fee-adjusted sell that would undercut buy price must not be placed")
	assert.Equal(t, 0, ex.placeCalls)
}

func TestRetryUnplacedSells_ResubmitsOnlyStuckLots(t *testing.T) {
	st := newFakeStore()
	st.lots["already-placed"] = core.Lot{ID: "already-placed", MarketID: "BTC-USD", Status: core.LotSellPlaced, SellOrderID: "x", BuyPrice: decimal.NewFromInt(100), BuySize: decimal.NewFromInt(1)}
	st.lots["stuck"] = core.Lot{ID: "stuck", MarketID: "BTC-USD", Status: core.LotOpen, BuyPrice: decimal.NewFromInt(100), BuySize: decimal.NewFromInt(1)}

	ex := &fakeExchange{nextID: "sell-retry"}
	m := NewManager(st, ex, grid.NewPlanner(), &fakeBus{}, noopLogger{})

	require.NoError(t, m.RetryUnplacedSells(context.Background(), "BTC-USD", testConfig()))

	assert.Equal(t, 1, ex.placeCalls, "only the stuck lot should trigger a placement")
	stuck := st.lots["stuck"]
	assert.Equal(t, core.LotSellPlaced, stuck.Status)
	assert.Equal(t, "sell-retry", stuck.SellOrderID)
}

func TestOnSellFill_ClosesLotAndComputesRealizedPnL(t *testing.T) {
	st := newFakeStore()
	st.lots["lot-1"] = core.Lot{
		ID: "lot-1", MarketID: "BTC-USD", Status: core.LotSellPlaced,
		BuyOrderID: "buy-1", BuyPrice: decimal.NewFromInt(100), BuySize: decimal.NewFromInt(1), BuyFee: decimal.NewFromFloat(0.1),
		SellOrderID: "sell-1",
	}
	m := NewManager(st, &fakeExchange{}, grid.NewPlanner(), &fakeBus{}, noopLogger{})

	f := core.Fill{OrderID: "sell-1", MarketID: "BTC-USD", Side: core.SideSell, Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1), Fee: decimal.NewFromFloat(0.1), Timestamp: time.Now()}
	require.NoError(t, m.OnSellFill(context.Background(), f))

	got := st.lots["lot-1"]
	assert.Equal(t, core.LotClosed, got.Status)
	// (101-100)*1 - 0.1 - 0.1 = 0.8
	want := decimal.NewFromFloat(0.8)
	assert.True(t, got.RealizedPnL.Equal(want), "realized pnl: got %s want %s", got.RealizedPnL, want)
}

func TestOnSellFill_PartialFillLeavesLotOpenProportionally(t *testing.T) {
	st := newFakeStore()
	st.lots["lot-1"] = core.Lot{
		ID: "lot-1", MarketID: "BTC-USD", Status: core.LotSellPlaced,
		BuyOrderID: "buy-1", BuyPrice: decimal.NewFromInt(100), BuySize: decimal.NewFromInt(2), BuyFee: decimal.NewFromFloat(0.2),
		SellOrderID: "sell-1",
	}
	m := NewManager(st, &fakeExchange{}, grid.NewPlanner(), &fakeBus{}, noopLogger{})

	partial := core.Fill{OrderID: "sell-1", MarketID: "BTC-USD", Side: core.SideSell, Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1), Fee: decimal.NewFromFloat(0.1), Timestamp: time.Now()}
	require.NoError(t, m.OnSellFill(context.Background(), partial))

	got := st.lots["lot-1"]
	assert.Equal(t, core.LotSellPlaced, got.Status, "a partial fill must leave the lot open under the same sell order")

	rest := core.Fill{OrderID: "sell-1", MarketID: "BTC-USD", Side: core.SideSell, Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1), Fee: decimal.NewFromFloat(0.1), Timestamp: time.Now()}
	require.NoError(t, m.OnSellFill(context.Background(), rest))

	got = st.lots["lot-1"]
	assert.Equal(t, core.LotClosed, got.Status, "the lot closes once total sold size reaches buy size")
}

func TestOnSellFill_UnknownOrderIsReconciliationError(t *testing.T) {
	st := newFakeStore()
	m := NewManager(st, &fakeExchange{}, grid.NewPlanner(), &fakeBus{}, noopLogger{})

	err := m.OnSellFill(context.Background(), core.Fill{OrderID: "ghost"})
	require.Error(t, err)
	var rerr *apperrors.ReconciliationError
	assert.ErrorAs(t, err, &rerr)
}
