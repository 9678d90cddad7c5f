package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleConfig() core.Config {
	return core.Config{
		GridStepPct:            decimal.NewFromFloat(0.01),
		BudgetUSD:              decimal.NewFromInt(1000),
		MaxOpenOrders:          10,
		BufferEnabled:          true,
		BufferPct:              decimal.NewFromFloat(0.002),
		StagingBandDepthPct:    decimal.NewFromFloat(0.05),
		MinBandOrders:          5,
		MaxBandOrders:          20,
		ProfitMode:             core.ProfitStep,
		CustomProfitPct:        decimal.Zero,
		MonthlyProfitTargetUSD: decimal.NewFromInt(500),
		SizingMode:             core.SizingFixedUSD,
		FixedUSDPerTrade:       decimal.NewFromInt(100),
		CapitalPctPerTrade:     decimal.Zero,
		LiveTradingEnabled:     false,
		PaperMode:              true,
		FeeBufferPct:           decimal.NewFromFloat(0.001),
		MaxGridCapitalPct:      decimal.NewFromFloat(0.7),
		ConservativeMultiplier: decimal.NewFromFloat(0.5),
	}
}

func TestConfig_PutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := sampleConfig()
	require.NoError(t, s.PutConfig(ctx, cfg))

	got, err := s.GetConfig(ctx)
	require.NoError(t, err)
	assert.True(t, got.GridStepPct.Equal(cfg.GridStepPct))
	assert.True(t, got.MaxGridCapitalPct.Equal(cfg.MaxGridCapitalPct))
	assert.Equal(t, cfg.MaxOpenOrders, got.MaxOpenOrders)
	assert.Equal(t, cfg.ProfitMode, got.ProfitMode)
	assert.Equal(t, cfg.PaperMode, got.PaperMode)
}

func TestConfig_GetBeforeSeedIsStoreError(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetConfig(context.Background())
	require.Error(t, err)
}

func TestConfig_PutConfigUpsertsInPlace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutConfig(ctx, sampleConfig()))
	updated := sampleConfig()
	updated.MaxOpenOrders = 42
	require.NoError(t, s.PutConfig(ctx, updated))

	got, err := s.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, got.MaxOpenOrders, "a second PutConfig must overwrite the single config row, not insert another")
}

// TestSetActiveMarket_HighlanderSwitch exercises §4.5: enabling a second
// market disables whatever was previously enabled in the same
// transaction, and the caller learns the previous id so it can cancel
// that market's orders.
func TestSetActiveMarket_HighlanderSwitch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMarket(ctx, core.Market{ID: "BTC-USD"}))
	require.NoError(t, s.UpsertMarket(ctx, core.Market{ID: "ETH-USD"}))

	prev, had, err := s.SetActiveMarket(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.False(t, had)
	assert.Empty(t, prev)

	prev, had, err = s.SetActiveMarket(ctx, "ETH-USD")
	require.NoError(t, err)
	assert.True(t, had)
	assert.Equal(t, "BTC-USD", prev)

	active, ok, err := s.GetActiveMarket(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ETH-USD", active.ID)

	btc, err := s.GetMarket(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.False(t, btc.Enabled, "the previously-active market must be disabled by the switch")
}

func TestSetActiveMarket_UnknownTargetLeavesPreviousEnabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMarket(ctx, core.Market{ID: "BTC-USD"}))
	_, _, err := s.SetActiveMarket(ctx, "BTC-USD")
	require.NoError(t, err)

	_, _, err = s.SetActiveMarket(ctx, "DOES-NOT-EXIST")
	require.Error(t, err, "switching to an unknown market must fail, not silently disable the current one")

	active, ok, err := s.GetActiveMarket(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", active.ID, "a failed switch must roll back, leaving the original market enabled")
}

func TestGetActiveMarket_NoneEnabledReturnsNotOK(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetActiveMarket(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrder_UpsertIsIdempotentByClientTag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	o := core.Order{
		ID: "order-1", ClientTag: "buy-BTC-USD-99", MarketID: "BTC-USD",
		Side: core.SideBuy, Price: decimal.NewFromInt(99), Size: decimal.NewFromFloat(0.1),
		Status: core.OrderOpen, CreatedAt: time.Now(),
	}
	require.NoError(t, s.UpsertOrder(ctx, o))

	got, found, err := s.GetOrderByClientTag(ctx, "buy-BTC-USD-99")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "order-1", got.ID)

	o.Status = core.OrderFilled
	require.NoError(t, s.UpsertOrder(ctx, o))

	got, _, err = s.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderFilled, got.Status, "re-submitting the same order id must update in place")
}

func TestOrder_ListOpenOrdersFiltersByMarketAndStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertOrder(ctx, core.Order{ID: "o1", ClientTag: "t1", MarketID: "BTC-USD", Status: core.OrderOpen, Price: decimal.Zero, Size: decimal.Zero, CreatedAt: time.Now()}))
	require.NoError(t, s.UpsertOrder(ctx, core.Order{ID: "o2", ClientTag: "t2", MarketID: "BTC-USD", Status: core.OrderFilled, Price: decimal.Zero, Size: decimal.Zero, CreatedAt: time.Now()}))
	require.NoError(t, s.UpsertOrder(ctx, core.Order{ID: "o3", ClientTag: "t3", MarketID: "ETH-USD", Status: core.OrderOpen, Price: decimal.Zero, Size: decimal.Zero, CreatedAt: time.Now()}))

	open, err := s.ListOpenOrders(ctx, "BTC-USD")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "o1", open[0].ID)
}

func TestFill_InsertIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	f := core.Fill{ID: "fill-1", OrderID: "order-1", MarketID: "BTC-USD", Side: core.SideBuy, Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Timestamp: time.Now()}
	require.NoError(t, s.InsertFill(ctx, f))
	require.NoError(t, s.InsertFill(ctx, f), "a duplicate fill id (at-least-once delivery) must not error")

	fills, err := s.ListFillsByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, fills, 1, "INSERT OR IGNORE must dedupe the replayed fill")
}

func TestLot_UpsertRoundTripsAndListsOpenByMarket(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	open := core.Lot{ID: "lot-1", MarketID: "BTC-USD", BuyOrderID: "buy-1", BuyPrice: decimal.NewFromInt(100), BuySize: decimal.NewFromInt(1), BuyTime: time.Now(), Status: core.LotOpen}
	closed := core.Lot{ID: "lot-2", MarketID: "BTC-USD", BuyOrderID: "buy-2", BuyPrice: decimal.NewFromInt(90), BuySize: decimal.NewFromInt(1), BuyTime: time.Now(), Status: core.LotClosed, RealizedPnL: decimal.NewFromFloat(1.5)}
	require.NoError(t, s.UpsertLot(ctx, open))
	require.NoError(t, s.UpsertLot(ctx, closed))

	openLots, err := s.ListOpenLots(ctx, "BTC-USD")
	require.NoError(t, err)
	require.Len(t, openLots, 1)
	assert.Equal(t, "lot-1", openLots[0].ID)

	got, found, err := s.GetLotByBuyOrderID(ctx, "buy-2")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.RealizedPnL.Equal(decimal.NewFromFloat(1.5)))
}

func TestLot_SellOrderIDUniqueAllowsManyBlankValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Two lots with no sell placed yet both have sell_order_id = ''; the
	// partial unique index (`WHERE sell_order_id != ''`) must not treat
	// the blanks as colliding duplicates.
	require.NoError(t, s.UpsertLot(ctx, core.Lot{ID: "lot-a", MarketID: "BTC-USD", BuyOrderID: "buy-a", BuyPrice: decimal.NewFromInt(100), BuySize: decimal.NewFromInt(1), BuyTime: time.Now(), Status: core.LotOpen}))
	require.NoError(t, s.UpsertLot(ctx, core.Lot{ID: "lot-b", MarketID: "BTC-USD", BuyOrderID: "buy-b", BuyPrice: decimal.NewFromInt(100), BuySize: decimal.NewFromInt(1), BuyTime: time.Now(), Status: core.LotOpen}))

	lots, err := s.ListOpenLots(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Len(t, lots, 2)
}

func TestAuditLog_Insert(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertAuditLog(context.Background(), core.AuditLogEntry{
		Timestamp: time.Now(), Actor: "operator", Action: "PAUSE", Before: "RUNNING", After: "PAUSED",
	})
	require.NoError(t, err)
}

func TestBotState_DefaultsToStoppedWhenUnset(t *testing.T) {
	s := openTestStore(t)
	bs, err := s.GetBotState(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, core.ModeStopped, bs.Mode)
	assert.True(t, bs.AnchorHigh.IsZero())
}

func TestBotState_PutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBotState(ctx, core.BotState{MarketID: "BTC-USD", AnchorHigh: decimal.NewFromInt(105), GridTop: decimal.NewFromInt(105), Mode: core.ModeRunning, LastTickAt: time.Now()}))

	got, err := s.GetBotState(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, core.ModeRunning, got.Mode)
	assert.True(t, got.AnchorHigh.Equal(decimal.NewFromInt(105)))
}
