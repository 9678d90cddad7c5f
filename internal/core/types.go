// Package core defines the domain types and capability interfaces shared
// by every other package: Store, ExchangeAdapter, RiskGovernor,
// GridPlanner, LotManager, Reconciler, Engine, and EventBus all depend on
// core, and core depends on nothing above pkg/.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the side of an Order or Fill.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the lifecycle state of an Order.
type OrderStatus string

const (
	OrderPendingPlace OrderStatus = "PENDING_PLACE"
	OrderOpen         OrderStatus = "OPEN"
	OrderFilled       OrderStatus = "FILLED"
	OrderCanceled     OrderStatus = "CANCELED"
	OrderRejected     OrderStatus = "REJECTED"
	OrderUnknown      OrderStatus = "UNKNOWN"
)

// LotStatus is the lifecycle state of a Lot.
type LotStatus string

const (
	LotOpen       LotStatus = "OPEN"
	LotSellPlaced LotStatus = "SELL_PLACED"
	LotClosed     LotStatus = "CLOSED"
)

// EngineMode is the Engine's top-level state machine state.
type EngineMode string

const (
	ModeStopped EngineMode = "STOPPED"
	ModeRunning EngineMode = "RUNNING"
	ModeHold    EngineMode = "HOLD"
	ModePaused  EngineMode = "PAUSED"
)

// ProfitMode selects the sell-price / reinvestment policy (§4.3).
type ProfitMode string

const (
	ProfitStep          ProfitMode = "STEP"
	ProfitStepReinvest  ProfitMode = "STEP_REINVEST"
	ProfitCustom        ProfitMode = "CUSTOM"
	ProfitSmartReinvest ProfitMode = "SMART_REINVEST"
)

// SizingMode selects how a grid level's order size is computed (§4.3).
type SizingMode string

const (
	SizingBudgetSplit SizingMode = "BUDGET_SPLIT"
	SizingFixedUSD    SizingMode = "FIXED_USD"
	SizingCapitalPct  SizingMode = "CAPITAL_PCT"
)

// Market is a tradable product. Exactly one Market may have Enabled=true
// at any instant (the Highlander invariant, I1).
type Market struct {
	ID         string
	Enabled    bool
	IsFavorite bool
	Ranking    int
	Settings   map[string]string
}

// Config is the singleton runtime configuration for the active strategy.
type Config struct {
	GridStepPct           decimal.Decimal
	BudgetUSD             decimal.Decimal
	MaxOpenOrders         int
	BufferEnabled         bool
	BufferPct             decimal.Decimal
	StagingBandDepthPct   decimal.Decimal
	MinBandOrders         int
	MaxBandOrders         int
	ProfitMode            ProfitMode
	CustomProfitPct       decimal.Decimal
	MonthlyProfitTargetUSD decimal.Decimal
	SizingMode            SizingMode
	FixedUSDPerTrade      decimal.Decimal
	CapitalPctPerTrade    decimal.Decimal
	LiveTradingEnabled    bool
	PaperMode             bool
	FeeBufferPct          decimal.Decimal
	MaxGridCapitalPct     decimal.Decimal

	// ConservativeMultiplier resolves the SPEC_FULL.md Open Question on
	// SMART_REINVEST's below-target sizing: a configurable fraction of
	// BUDGET_SPLIT size used while current_month_realized_pnl_usd is
	// below MonthlyProfitTargetUSD. Default 0.5.
	ConservativeMultiplier decimal.Decimal
}

// Validate enforces the config-level invariants from §8 (e.g. a zero
// grid step would generate infinite identical levels).
func (c Config) Validate() error {
	if c.GridStepPct.IsZero() || c.GridStepPct.IsNegative() {
		return &ConfigValidationError{Field: "grid_step_pct", Detail: "must be > 0"}
	}
	if c.MaxOpenOrders <= 0 || c.MaxOpenOrders > 490 {
		return &ConfigValidationError{Field: "max_open_orders", Detail: "must be in (0, 490]"}
	}
	if c.MinBandOrders <= 0 || c.MaxBandOrders < c.MinBandOrders {
		return &ConfigValidationError{Field: "band_orders", Detail: "min_band_orders must be > 0 and <= max_band_orders"}
	}
	if c.MaxGridCapitalPct.LessThanOrEqual(decimal.Zero) || c.MaxGridCapitalPct.GreaterThan(decimal.NewFromInt(1)) {
		return &ConfigValidationError{Field: "max_grid_capital_pct", Detail: "must be in (0, 1]"}
	}
	return nil
}

// ConfigValidationError reports a single rejected Config field.
type ConfigValidationError struct {
	Field  string
	Detail string
}

func (e *ConfigValidationError) Error() string {
	return "config validation: " + e.Field + ": " + e.Detail
}

// Order is a single limit order, local or exchange-mirrored.
type Order struct {
	ID        string
	ClientTag string
	MarketID  string
	Side      OrderSide
	Price     decimal.Decimal
	Size      decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
	LotID     string // empty for unpaired BUYs
}

// Fill is a single exchange-reported execution against an Order.
type Fill struct {
	ID        string
	OrderID   string
	MarketID  string
	Side      OrderSide
	Price     decimal.Decimal
	Size      decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// Lot is a unit of inventory: one BUY fill and at most one SELL fill,
// carried from OPEN to CLOSED. Lots are never deleted (I3 history).
type Lot struct {
	ID           string
	MarketID     string
	BuyOrderID   string
	BuyPrice     decimal.Decimal
	BuySize      decimal.Decimal
	BuyFee       decimal.Decimal
	BuyTime      time.Time
	SellOrderID  string // empty until a SELL is placed
	SellPrice    decimal.Decimal
	SellTime     time.Time
	RealizedPnL  decimal.Decimal
	Status       LotStatus
}

// BotState is the per-market mutable runtime state the Engine owns and
// the only thing the tick loop writes to directly (§9 "global mutable
// bot state").
type BotState struct {
	MarketID    string
	AnchorHigh  decimal.Decimal
	GridTop     decimal.Decimal
	Mode        EngineMode
	LastTickAt  time.Time
}

// AuditLogEntry records a state transition for operator/compliance
// visibility. Before/After are opaque snapshots (JSON-encoded by the
// Store implementation).
type AuditLogEntry struct {
	Timestamp time.Time
	Actor     string // "system" or "user"
	Action    string
	Before    string
	After     string
}

// GridLevel is one desired BUY price level emitted by the GridPlanner.
type GridLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ProductInfo describes an exchange product's increments (from
// get_products).
type ProductInfo struct {
	ID             string
	BaseIncrement  decimal.Decimal
	QuoteIncrement decimal.Decimal
	MinSize        decimal.Decimal
}
