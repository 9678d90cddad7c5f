package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/apperrors"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func ts(unixNano int64) time.Time {
	if unixNano == 0 {
		return time.Time{}
	}
	return time.Unix(0, unixNano).UTC()
}

func tsNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Config ---

func (s *SQLiteStore) GetConfig(ctx context.Context) (core.Config, error) {
	row := s.db.QueryRowContext(ctx, `SELECT grid_step_pct, budget_usd, max_open_orders, buffer_enabled,
		buffer_pct, staging_band_depth_pct, min_band_orders, max_band_orders, profit_mode, custom_profit_pct,
		monthly_profit_target_usd, sizing_mode, fixed_usd_per_trade, capital_pct_per_trade, live_trading_enabled,
		paper_mode, fee_buffer_pct, max_grid_capital_pct, conservative_multiplier FROM config WHERE id = 1`)

	var (
		gridStepPct, budgetUSD, bufferPct, bandDepthPct, customProfitPct, monthlyTarget string
		fixedUSD, capitalPct, feeBuffer, maxGridCapitalPct, conservativeMultiplier      string
		maxOpenOrders, minBandOrders, maxBandOrders                                     int
		bufferEnabled, liveTrading, paperMode                                           int
		profitMode, sizingMode                                                          string
	)

	err := row.Scan(&gridStepPct, &budgetUSD, &maxOpenOrders, &bufferEnabled, &bufferPct, &bandDepthPct,
		&minBandOrders, &maxBandOrders, &profitMode, &customProfitPct, &monthlyTarget, &sizingMode,
		&fixedUSD, &capitalPct, &liveTrading, &paperMode, &feeBuffer, &maxGridCapitalPct, &conservativeMultiplier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Config{}, &apperrors.StoreError{Op: "GetConfig", Err: fmt.Errorf("config not seeded")}
		}
		return core.Config{}, &apperrors.StoreError{Op: "GetConfig", Err: err}
	}

	return core.Config{
		GridStepPct:            dec(gridStepPct),
		BudgetUSD:              dec(budgetUSD),
		MaxOpenOrders:          maxOpenOrders,
		BufferEnabled:          bufferEnabled == 1,
		BufferPct:              dec(bufferPct),
		StagingBandDepthPct:    dec(bandDepthPct),
		MinBandOrders:          minBandOrders,
		MaxBandOrders:          maxBandOrders,
		ProfitMode:             core.ProfitMode(profitMode),
		CustomProfitPct:        dec(customProfitPct),
		MonthlyProfitTargetUSD: dec(monthlyTarget),
		SizingMode:             core.SizingMode(sizingMode),
		FixedUSDPerTrade:       dec(fixedUSD),
		CapitalPctPerTrade:     dec(capitalPct),
		LiveTradingEnabled:     liveTrading == 1,
		PaperMode:              paperMode == 1,
		FeeBufferPct:           dec(feeBuffer),
		MaxGridCapitalPct:      dec(maxGridCapitalPct),
		ConservativeMultiplier: dec(conservativeMultiplier),
	}, nil
}

func (s *SQLiteStore) PutConfig(ctx context.Context, cfg core.Config) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO config (
		id, grid_step_pct, budget_usd, max_open_orders, buffer_enabled, buffer_pct, staging_band_depth_pct,
		min_band_orders, max_band_orders, profit_mode, custom_profit_pct, monthly_profit_target_usd,
		sizing_mode, fixed_usd_per_trade, capital_pct_per_trade, live_trading_enabled, paper_mode,
		fee_buffer_pct, max_grid_capital_pct, conservative_multiplier
	) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		grid_step_pct=excluded.grid_step_pct, budget_usd=excluded.budget_usd,
		max_open_orders=excluded.max_open_orders, buffer_enabled=excluded.buffer_enabled,
		buffer_pct=excluded.buffer_pct, staging_band_depth_pct=excluded.staging_band_depth_pct,
		min_band_orders=excluded.min_band_orders, max_band_orders=excluded.max_band_orders,
		profit_mode=excluded.profit_mode, custom_profit_pct=excluded.custom_profit_pct,
		monthly_profit_target_usd=excluded.monthly_profit_target_usd, sizing_mode=excluded.sizing_mode,
		fixed_usd_per_trade=excluded.fixed_usd_per_trade, capital_pct_per_trade=excluded.capital_pct_per_trade,
		live_trading_enabled=excluded.live_trading_enabled, paper_mode=excluded.paper_mode,
		fee_buffer_pct=excluded.fee_buffer_pct, max_grid_capital_pct=excluded.max_grid_capital_pct,
		conservative_multiplier=excluded.conservative_multiplier`,
		cfg.GridStepPct.String(), cfg.BudgetUSD.String(), cfg.MaxOpenOrders, boolToInt(cfg.BufferEnabled),
		cfg.BufferPct.String(), cfg.StagingBandDepthPct.String(), cfg.MinBandOrders, cfg.MaxBandOrders,
		string(cfg.ProfitMode), cfg.CustomProfitPct.String(), cfg.MonthlyProfitTargetUSD.String(),
		string(cfg.SizingMode), cfg.FixedUSDPerTrade.String(), cfg.CapitalPctPerTrade.String(),
		boolToInt(cfg.LiveTradingEnabled), boolToInt(cfg.PaperMode), cfg.FeeBufferPct.String(),
		cfg.MaxGridCapitalPct.String(), cfg.ConservativeMultiplier.String(),
	)
	if err != nil {
		return &apperrors.StoreError{Op: "PutConfig", Err: err}
	}
	return nil
}

// --- Markets ---

func scanMarket(row interface{ Scan(...interface{}) error }) (core.Market, error) {
	var m core.Market
	var enabled, favorite int
	var settingsJSON string
	if err := row.Scan(&m.ID, &enabled, &favorite, &m.Ranking, &settingsJSON); err != nil {
		return core.Market{}, err
	}
	m.Enabled = enabled == 1
	m.IsFavorite = favorite == 1
	m.Settings = map[string]string{}
	_ = json.Unmarshal([]byte(settingsJSON), &m.Settings)
	return m, nil
}

func (s *SQLiteStore) GetMarket(ctx context.Context, id string) (core.Market, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, enabled, is_favorite, ranking, settings FROM markets WHERE id = ?`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Market{}, &apperrors.StoreError{Op: "GetMarket", Err: apperrors.ErrInvalidSymbol}
		}
		return core.Market{}, &apperrors.StoreError{Op: "GetMarket", Err: err}
	}
	return m, nil
}

func (s *SQLiteStore) ListMarkets(ctx context.Context) ([]core.Market, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, enabled, is_favorite, ranking, settings FROM markets ORDER BY ranking ASC`)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "ListMarkets", Err: err}
	}
	defer rows.Close()

	var out []core.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, &apperrors.StoreError{Op: "ListMarkets", Err: err}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetActiveMarket(ctx context.Context) (core.Market, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, enabled, is_favorite, ranking, settings FROM markets WHERE enabled = 1 LIMIT 1`)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Market{}, false, nil
		}
		return core.Market{}, false, &apperrors.StoreError{Op: "GetActiveMarket", Err: err}
	}
	return m, true, nil
}

func (s *SQLiteStore) UpsertMarket(ctx context.Context, m core.Market) error {
	settingsJSON, _ := json.Marshal(m.Settings)
	_, err := s.db.ExecContext(ctx, `INSERT INTO markets (id, enabled, is_favorite, ranking, settings)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET enabled=excluded.enabled, is_favorite=excluded.is_favorite,
			ranking=excluded.ranking, settings=excluded.settings`,
		m.ID, boolToInt(m.Enabled), boolToInt(m.IsFavorite), m.Ranking, string(settingsJSON))
	if err != nil {
		return &apperrors.StoreError{Op: "UpsertMarket", Err: err}
	}
	return nil
}

// SetActiveMarket performs the Highlander transactional switch described
// in §4.5: disable whatever market is currently enabled and enable
// target in a single transaction, so a crash between the two writes is
// impossible and the partial-unique index on markets(enabled) is never
// violated.
func (s *SQLiteStore) SetActiveMarket(ctx context.Context, targetID string) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, &apperrors.StoreError{Op: "SetActiveMarket", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var previousID string
	hadPrevious := false
	row := tx.QueryRowContext(ctx, `SELECT id FROM markets WHERE enabled = 1 LIMIT 1`)
	if err := row.Scan(&previousID); err == nil {
		hadPrevious = true
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", false, &apperrors.StoreError{Op: "SetActiveMarket", Err: err}
	}

	if hadPrevious {
		if _, err := tx.ExecContext(ctx, `UPDATE markets SET enabled = 0 WHERE id = ?`, previousID); err != nil {
			return "", false, &apperrors.StoreError{Op: "SetActiveMarket.disable", Err: err}
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE markets SET enabled = 1 WHERE id = ?`, targetID)
	if err != nil {
		return "", false, &apperrors.StoreError{Op: "SetActiveMarket.enable", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", false, &apperrors.StoreError{Op: "SetActiveMarket.enable", Err: fmt.Errorf("market %s not found", targetID)}
	}

	if err := tx.Commit(); err != nil {
		return "", false, &apperrors.StoreError{Op: "SetActiveMarket.commit", Err: err}
	}
	return previousID, hadPrevious, nil
}

// --- BotState ---

func (s *SQLiteStore) GetBotState(ctx context.Context, marketID string) (core.BotState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT market_id, anchor_high, grid_top, mode, last_tick_at FROM bot_state WHERE market_id = ?`, marketID)
	var bs core.BotState
	var anchor, gridTop, mode string
	var lastTick int64
	err := row.Scan(&bs.MarketID, &anchor, &gridTop, &mode, &lastTick)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.BotState{MarketID: marketID, AnchorHigh: decimal.Zero, GridTop: decimal.Zero, Mode: core.ModeStopped}, nil
		}
		return core.BotState{}, &apperrors.StoreError{Op: "GetBotState", Err: err}
	}
	bs.AnchorHigh = dec(anchor)
	bs.GridTop = dec(gridTop)
	bs.Mode = core.EngineMode(mode)
	bs.LastTickAt = ts(lastTick)
	return bs, nil
}

func (s *SQLiteStore) PutBotState(ctx context.Context, st core.BotState) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO bot_state (market_id, anchor_high, grid_top, mode, last_tick_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET anchor_high=excluded.anchor_high, grid_top=excluded.grid_top,
			mode=excluded.mode, last_tick_at=excluded.last_tick_at`,
		st.MarketID, st.AnchorHigh.String(), st.GridTop.String(), string(st.Mode), tsNano(st.LastTickAt))
	if err != nil {
		return &apperrors.StoreError{Op: "PutBotState", Err: err}
	}
	return nil
}

// --- Orders ---

func scanOrder(row interface{ Scan(...interface{}) error }) (core.Order, error) {
	var o core.Order
	var price, size string
	var createdAt int64
	var side, status string
	if err := row.Scan(&o.ID, &o.ClientTag, &o.MarketID, &side, &price, &size, &status, &createdAt, &o.LotID); err != nil {
		return core.Order{}, err
	}
	o.Side = core.OrderSide(side)
	o.Price = dec(price)
	o.Size = dec(size)
	o.Status = core.OrderStatus(status)
	o.CreatedAt = ts(createdAt)
	return o, nil
}

const orderColumns = `id, client_tag, market_id, side, price, size, status, created_at, lot_id`

func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (core.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Order{}, false, nil
		}
		return core.Order{}, false, &apperrors.StoreError{Op: "GetOrder", Err: err}
	}
	return o, true, nil
}

func (s *SQLiteStore) GetOrderByClientTag(ctx context.Context, clientTag string) (core.Order, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_tag = ?`, clientTag)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Order{}, false, nil
		}
		return core.Order{}, false, &apperrors.StoreError{Op: "GetOrderByClientTag", Err: err}
	}
	return o, true, nil
}

func (s *SQLiteStore) ListOpenOrders(ctx context.Context, marketID string) ([]core.Order, error) {
	return s.ListOrders(ctx, marketID, core.OrderOpen, 0, 0)
}

func (s *SQLiteStore) ListOrders(ctx context.Context, marketID string, status core.OrderStatus, limit, skip int) ([]core.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []interface{}
	if marketID != "" {
		query += ` AND market_id = ?`
		args = append(args, marketID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "ListOrders", Err: err}
	}
	defer rows.Close()

	var out []core.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, &apperrors.StoreError{Op: "ListOrders", Err: err}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertOrder writes an Order row. Writes are serialized per-order by
// client_tag at the call site (§5 shared-resource policy); the unique
// index on client_tag additionally guarantees idempotent placement never
// produces two rows for one tag.
func (s *SQLiteStore) UpsertOrder(ctx context.Context, o core.Order) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET client_tag=excluded.client_tag, market_id=excluded.market_id,
			side=excluded.side, price=excluded.price, size=excluded.size, status=excluded.status,
			created_at=excluded.created_at, lot_id=excluded.lot_id`,
		o.ID, o.ClientTag, o.MarketID, string(o.Side), o.Price.String(), o.Size.String(),
		string(o.Status), tsNano(o.CreatedAt), o.LotID)
	if err != nil {
		return &apperrors.StoreError{Op: "UpsertOrder", Err: err}
	}
	return nil
}

// --- Fills ---

func scanFill(row interface{ Scan(...interface{}) error }) (core.Fill, error) {
	var f core.Fill
	var price, size, fee string
	var tsNanoVal int64
	var side string
	if err := row.Scan(&f.ID, &f.OrderID, &f.MarketID, &side, &price, &size, &fee, &tsNanoVal); err != nil {
		return core.Fill{}, err
	}
	f.Side = core.OrderSide(side)
	f.Price = dec(price)
	f.Size = dec(size)
	f.Fee = dec(fee)
	f.Timestamp = ts(tsNanoVal)
	return f, nil
}

const fillColumns = `id, order_id, market_id, side, price, size, fee, timestamp`

func (s *SQLiteStore) InsertFill(ctx context.Context, f core.Fill) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO fills (`+fillColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.MarketID, string(f.Side), f.Price.String(), f.Size.String(), f.Fee.String(), tsNano(f.Timestamp))
	if err != nil {
		return &apperrors.StoreError{Op: "InsertFill", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ListFillsSince(ctx context.Context, marketID string, since time.Time) ([]core.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fillColumns+` FROM fills WHERE market_id = ? AND timestamp >= ? ORDER BY timestamp ASC`,
		marketID, tsNano(since))
	if err != nil {
		return nil, &apperrors.StoreError{Op: "ListFillsSince", Err: err}
	}
	defer rows.Close()

	var out []core.Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, &apperrors.StoreError{Op: "ListFillsSince", Err: err}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFillsByOrderID(ctx context.Context, orderID string) ([]core.Fill, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fillColumns+` FROM fills WHERE order_id = ? ORDER BY timestamp ASC`, orderID)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "ListFillsByOrderID", Err: err}
	}
	defer rows.Close()

	var out []core.Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, &apperrors.StoreError{Op: "ListFillsByOrderID", Err: err}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFills(ctx context.Context, limit, skip int) ([]core.Fill, error) {
	query := `SELECT ` + fillColumns + ` FROM fills ORDER BY timestamp DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, skip)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "ListFills", Err: err}
	}
	defer rows.Close()

	var out []core.Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, &apperrors.StoreError{Op: "ListFills", Err: err}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Lots ---

func scanLot(row interface{ Scan(...interface{}) error }) (core.Lot, error) {
	var l core.Lot
	var buyPrice, buySize, sellPrice, realizedPnL string
	var buyTime, sellTime int64
	var status string
	if err := row.Scan(&l.ID, &l.MarketID, &l.BuyOrderID, &buyPrice, &buySize, &buyTime,
		&l.SellOrderID, &sellPrice, &sellTime, &realizedPnL, &status); err != nil {
		return core.Lot{}, err
	}
	l.BuyPrice = dec(buyPrice)
	l.BuySize = dec(buySize)
	l.BuyTime = ts(buyTime)
	l.SellPrice = dec(sellPrice)
	l.SellTime = ts(sellTime)
	l.RealizedPnL = dec(realizedPnL)
	l.Status = core.LotStatus(status)
	return l, nil
}

const lotColumns = `id, market_id, buy_order_id, buy_price, buy_size, buy_time, sell_order_id, sell_price, sell_time, realized_pnl, status`

func (s *SQLiteStore) GetLot(ctx context.Context, id string) (core.Lot, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`, id)
	l, err := scanLot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Lot{}, false, nil
		}
		return core.Lot{}, false, &apperrors.StoreError{Op: "GetLot", Err: err}
	}
	return l, true, nil
}

func (s *SQLiteStore) GetLotByBuyOrderID(ctx context.Context, buyOrderID string) (core.Lot, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE buy_order_id = ?`, buyOrderID)
	l, err := scanLot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Lot{}, false, nil
		}
		return core.Lot{}, false, &apperrors.StoreError{Op: "GetLotByBuyOrderID", Err: err}
	}
	return l, true, nil
}

func (s *SQLiteStore) GetLotBySellOrderID(ctx context.Context, sellOrderID string) (core.Lot, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE sell_order_id = ?`, sellOrderID)
	l, err := scanLot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Lot{}, false, nil
		}
		return core.Lot{}, false, &apperrors.StoreError{Op: "GetLotBySellOrderID", Err: err}
	}
	return l, true, nil
}

func (s *SQLiteStore) ListOpenLots(ctx context.Context, marketID string) ([]core.Lot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE market_id = ? AND status != ? ORDER BY buy_time ASC`,
		marketID, string(core.LotClosed))
	if err != nil {
		return nil, &apperrors.StoreError{Op: "ListOpenLots", Err: err}
	}
	defer rows.Close()

	var out []core.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, &apperrors.StoreError{Op: "ListOpenLots", Err: err}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListLots(ctx context.Context, limit, skip int) ([]core.Lot, error) {
	query := `SELECT ` + lotColumns + ` FROM lots ORDER BY buy_time DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, skip)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &apperrors.StoreError{Op: "ListLots", Err: err}
	}
	defer rows.Close()

	var out []core.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, &apperrors.StoreError{Op: "ListLots", Err: err}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertLot(ctx context.Context, l core.Lot) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO lots (`+lotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET buy_order_id=excluded.buy_order_id, buy_price=excluded.buy_price,
			buy_size=excluded.buy_size, buy_time=excluded.buy_time, sell_order_id=excluded.sell_order_id,
			sell_price=excluded.sell_price, sell_time=excluded.sell_time, realized_pnl=excluded.realized_pnl,
			status=excluded.status`,
		l.ID, l.MarketID, l.BuyOrderID, l.BuyPrice.String(), l.BuySize.String(), tsNano(l.BuyTime),
		l.SellOrderID, l.SellPrice.String(), tsNano(l.SellTime), l.RealizedPnL.String(), string(l.Status))
	if err != nil {
		return &apperrors.StoreError{Op: "UpsertLot", Err: err}
	}
	return nil
}

// --- Audit log ---

func (s *SQLiteStore) InsertAuditLog(ctx context.Context, e core.AuditLogEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log (timestamp, actor, action, before, after) VALUES (?, ?, ?, ?, ?)`,
		tsNano(e.Timestamp), e.Actor, e.Action, e.Before, e.After)
	if err != nil {
		return &apperrors.StoreError{Op: "InsertAuditLog", Err: err}
	}
	return nil
}
