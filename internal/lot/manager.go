// Package lot implements the LotManager (§4.4): maps BUY fills to Lots
// and paired SELL orders, and maps SELL fills back to closed Lots with
// realized PnL.
package lot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/grid"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/apperrors"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/retry"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/telemetry"
)

// Manager implements core.ILotManager.
type Manager struct {
	store    core.IStore
	exchange core.IExchangeAdapter
	planner  core.IGridPlanner
	bus      core.IEventBus
	logger   core.ILogger
}

// NewManager constructs a Manager.
func NewManager(store core.IStore, exchange core.IExchangeAdapter, planner core.IGridPlanner, bus core.IEventBus, logger core.ILogger) *Manager {
	return &Manager{
		store:    store,
		exchange: exchange,
		planner:  planner,
		bus:      bus,
		logger:   logger.With("component", "lot_manager"),
	}
}

// OnBuyFill implements §4.4's BUY-fill handling: create a Lot, compute
// the paired sell price, and submit the SELL. A SELL is never abandoned:
// on transient failure the Lot is persisted OPEN with no sell_order_id
// and RetryUnplacedSells picks it up on a later tick.
func (m *Manager) OnBuyFill(ctx context.Context, f core.Fill, cfg core.Config) error {
	if existing, found, err := m.store.GetLotByBuyOrderID(ctx, f.OrderID); err != nil {
		return &apperrors.StoreError{Op: "OnBuyFill.lookup", Err: err}
	} else if found {
		m.logger.Debug("buy fill already processed", "lot_id", existing.ID, "order_id", f.OrderID)
		return nil
	}

	l := core.Lot{
		ID:         uuid.NewString(),
		MarketID:   f.MarketID,
		BuyOrderID: f.OrderID,
		BuyPrice:   f.Price,
		BuySize:    f.Size,
		BuyFee:     f.Fee,
		BuyTime:    f.Timestamp,
		Status:     core.LotOpen,
	}

	if err := m.store.UpsertLot(ctx, l); err != nil {
		return &apperrors.StoreError{Op: "OnBuyFill.create", Err: err}
	}

	m.logger.Info("lot opened", "lot_id", l.ID, "buy_order_id", f.OrderID, "buy_price", l.BuyPrice, "buy_size", l.BuySize)

	if err := m.placeSell(ctx, &l, cfg); err != nil {
		m.logger.Warn("sell placement deferred", "lot_id", l.ID, "error", err)
	}

	telemetry.GetGlobalMetrics().FillProcessed(ctx)
	m.bus.Publish(core.BusEvent{Type: core.EventOrderFilled, Data: f})
	return nil
}

// placeSell computes the sell price, validates I3, and submits the
// order. Callers treat a returned error as "retry later" — the Lot is
// always persisted OPEN first so it is never lost.
func (m *Manager) placeSell(ctx context.Context, l *core.Lot, cfg core.Config) error {
	monthPnL, err := m.MonthRealizedPnLUSD(ctx, l.MarketID, time.Now())
	if err != nil {
		return err
	}

	sellPrice := m.planner.SellPrice(l.BuyPrice, cfg, monthPnL)

	minAcceptable := l.BuyPrice.Mul(decimal.NewFromInt(1).Add(cfg.GridStepPct).Sub(cfg.FeeBufferPct))
	if sellPrice.LessThan(minAcceptable) {
		return &apperrors.PermanentExchangeError{
			Op:  "placeSell",
			Err: fmt.Errorf("fee-adjusted sell price %s would undercut buy price %s (I3 violation): fees exceed grid_step_pct", sellPrice, l.BuyPrice),
		}
	}

	clientTag := "sell-" + l.ID
	orderID, err := retryPlace(ctx, m.exchange, l.MarketID, sellPrice, l.BuySize, clientTag)
	if err != nil {
		l.Status = core.LotOpen
		_ = m.store.UpsertLot(ctx, *l)
		return err
	}

	l.Status = core.LotSellPlaced
	l.SellOrderID = orderID
	if err := m.store.UpsertLot(ctx, *l); err != nil {
		return &apperrors.StoreError{Op: "placeSell.persist", Err: err}
	}

	order := core.Order{
		ID:        orderID,
		ClientTag: clientTag,
		MarketID:  l.MarketID,
		Side:      core.SideSell,
		Price:     sellPrice,
		Size:      l.BuySize,
		Status:    core.OrderOpen,
		CreatedAt: time.Now(),
		LotID:     l.ID,
	}
	if err := m.store.UpsertOrder(ctx, order); err != nil {
		return &apperrors.StoreError{Op: "placeSell.persistOrder", Err: err}
	}

	m.logger.Info("sell placed", "lot_id", l.ID, "sell_order_id", orderID, "sell_price", sellPrice)
	return nil
}

func retryPlace(ctx context.Context, exchange core.IExchangeAdapter, marketID string, price, size decimal.Decimal, clientTag string) (string, error) {
	var orderID string
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsTransient, func() error {
		id, err := exchange.PlaceLimitOrder(ctx, marketID, core.SideSell, price, size, clientTag, true)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	return orderID, err
}

// RetryUnplacedSells resubmits SELLs for every Lot stuck OPEN with no
// sell_order_id. Called once per tick by the Engine.
func (m *Manager) RetryUnplacedSells(ctx context.Context, marketID string, cfg core.Config) error {
	lots, err := m.store.ListOpenLots(ctx, marketID)
	if err != nil {
		return &apperrors.StoreError{Op: "RetryUnplacedSells.list", Err: err}
	}

	for i := range lots {
		l := lots[i]
		if l.Status != core.LotOpen || l.SellOrderID != "" {
			continue
		}
		if err := m.placeSell(ctx, &l, cfg); err != nil {
			m.logger.Warn("retry sell placement failed", "lot_id", l.ID, "error", err)
		}
	}
	return nil
}

// OnSellFill implements §4.4's SELL-fill handling, with proportional
// sub-lot closing for partial fills (the Open Question #3 resolution):
// each fill is recorded in the Store and adds its pro-rata share
// (fill.Size/lot.BuySize) of PnL to the Lot, which stays SELL_PLACED
// under the same sell_order_id until the recorded fill sizes reach
// BuySize, and is then CLOSED.
func (m *Manager) OnSellFill(ctx context.Context, f core.Fill) error {
	l, found, err := m.store.GetLotBySellOrderID(ctx, f.OrderID)
	if err != nil {
		return &apperrors.StoreError{Op: "OnSellFill.lookup", Err: err}
	}
	if !found {
		return &apperrors.ReconciliationError{Detail: fmt.Sprintf("sell fill for unknown order %s", f.OrderID), Err: apperrors.ErrOrderNotFound}
	}

	priorFills, err := m.store.ListFillsByOrderID(ctx, f.OrderID)
	if err != nil {
		return &apperrors.StoreError{Op: "OnSellFill.priorFills", Err: err}
	}
	soldBefore := decimal.Zero
	for _, pf := range priorFills {
		soldBefore = soldBefore.Add(pf.Size)
	}
	if err := m.store.InsertFill(ctx, f); err != nil {
		return &apperrors.StoreError{Op: "OnSellFill.recordFill", Err: err}
	}

	proportion := decimal.NewFromInt(1)
	if l.BuySize.IsPositive() {
		proportion = f.Size.Div(l.BuySize)
	}
	thisFillPnL := f.Price.Sub(l.BuyPrice).Mul(f.Size).Sub(l.BuyFee.Mul(proportion)).Sub(f.Fee)

	l.RealizedPnL = l.RealizedPnL.Add(thisFillPnL)
	l.SellPrice = f.Price
	l.SellTime = f.Timestamp

	soldTotal := soldBefore.Add(f.Size)
	if soldTotal.GreaterThanOrEqual(l.BuySize) {
		l.Status = core.LotClosed
	} else {
		l.Status = core.LotSellPlaced
	}

	if err := m.store.UpsertLot(ctx, l); err != nil {
		return &apperrors.StoreError{Op: "OnSellFill.persist", Err: err}
	}

	m.logger.Info("lot fill processed", "lot_id", l.ID, "status", l.Status, "realized_pnl_delta", thisFillPnL, "sold_total", soldTotal, "buy_size", l.BuySize)
	telemetry.GetGlobalMetrics().FillProcessed(ctx)
	m.bus.Publish(core.BusEvent{Type: core.EventOrderFilled, Data: f})
	return nil
}

// MonthRealizedPnLUSD sums RealizedPnL across Lots closed in the UTC
// month containing at (used by SMART_REINVEST, both for the paired sell
// price here and for the Engine's conservative buy-sizing).
func (m *Manager) MonthRealizedPnLUSD(ctx context.Context, marketID string, at time.Time) (decimal.Decimal, error) {
	monthStart := grid.CurrentUTCMonthStart(at)
	lots, err := m.store.ListLots(ctx, 0, 0)
	if err != nil {
		return decimal.Zero, &apperrors.StoreError{Op: "MonthRealizedPnLUSD", Err: err}
	}

	total := decimal.Zero
	for _, l := range lots {
		if l.MarketID != marketID || l.Status != core.LotClosed {
			continue
		}
		if l.SellTime.Before(monthStart) {
			continue
		}
		total = total.Add(l.RealizedPnL)
	}
	return total, nil
}

var _ core.ILotManager = (*Manager)(nil)
