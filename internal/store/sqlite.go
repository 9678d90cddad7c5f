// Package store implements core.IStore against a local SQLite database:
// markets, orders, fills, lots, bot_state, config, and audit_log, with
// the indices required by §6.4 (including the partial-unique index that
// enforces the Highlander invariant at the storage layer).
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

// SQLiteStore is the sqlite-backed core.IStore implementation.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path, enables
// WAL journaling for crash recovery, and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS markets (
			id TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL DEFAULT 0,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			ranking INTEGER NOT NULL DEFAULT 0,
			settings TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_markets_enabled ON markets(enabled) WHERE enabled = 1`,

		`CREATE TABLE IF NOT EXISTS config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			grid_step_pct TEXT NOT NULL,
			budget_usd TEXT NOT NULL,
			max_open_orders INTEGER NOT NULL,
			buffer_enabled INTEGER NOT NULL,
			buffer_pct TEXT NOT NULL,
			staging_band_depth_pct TEXT NOT NULL,
			min_band_orders INTEGER NOT NULL,
			max_band_orders INTEGER NOT NULL,
			profit_mode TEXT NOT NULL,
			custom_profit_pct TEXT NOT NULL,
			monthly_profit_target_usd TEXT NOT NULL,
			sizing_mode TEXT NOT NULL,
			fixed_usd_per_trade TEXT NOT NULL,
			capital_pct_per_trade TEXT NOT NULL,
			live_trading_enabled INTEGER NOT NULL,
			paper_mode INTEGER NOT NULL,
			fee_buffer_pct TEXT NOT NULL,
			max_grid_capital_pct TEXT NOT NULL,
			conservative_multiplier TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			client_tag TEXT NOT NULL,
			market_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			size TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			lot_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_market_status ON orders(market_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_client_tag ON orders(client_tag)`,

		`CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			side TEXT NOT NULL,
			price TEXT NOT NULL,
			size TEXT NOT NULL,
			fee TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order_id ON fills(order_id)`,

		`CREATE TABLE IF NOT EXISTS lots (
			id TEXT PRIMARY KEY,
			market_id TEXT NOT NULL,
			buy_order_id TEXT NOT NULL,
			buy_price TEXT NOT NULL,
			buy_size TEXT NOT NULL,
			buy_time INTEGER NOT NULL,
			sell_order_id TEXT NOT NULL DEFAULT '',
			sell_price TEXT NOT NULL DEFAULT '0',
			sell_time INTEGER NOT NULL DEFAULT 0,
			realized_pnl TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_lots_buy_order_id ON lots(buy_order_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_lots_sell_order_id ON lots(sell_order_id) WHERE sell_order_id != ''`,

		`CREATE TABLE IF NOT EXISTS bot_state (
			market_id TEXT PRIMARY KEY,
			anchor_high TEXT NOT NULL,
			grid_top TEXT NOT NULL,
			mode TEXT NOT NULL,
			last_tick_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			before TEXT NOT NULL,
			after TEXT NOT NULL
		)`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ core.IStore = (*SQLiteStore)(nil)
