// Package risk implements the RiskGovernor admission decisions (§4.2) and
// the transient-failure circuit breaker that forces a HOLD after
// repeated exchange errors (§7).
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

// Governor is the RiskGovernor: a pure decision function over a
// RiskSnapshot. It holds no mutable state of its own.
type Governor struct{}

// NewGovernor constructs a Governor.
func NewGovernor() *Governor { return &Governor{} }

// AdmitOrder applies the §4.2 denial rules, in the order the spec lists
// them, returning the first applicable denial reason.
func (g *Governor) AdmitOrder(snap core.RiskSnapshot, candidate core.GridLevel, side core.OrderSide) (bool, string) {
	cfg := snap.Config

	if snap.EngineMode == core.ModePaused || snap.EngineMode == core.ModeStopped {
		return false, "engine is " + string(snap.EngineMode)
	}

	if !cfg.LiveTradingEnabled && !cfg.PaperMode {
		return false, "live trading disabled and paper mode disabled: refusing to act"
	}

	if snap.OpenOrderCount >= cfg.MaxOpenOrders {
		return false, "max_open_orders reached"
	}

	softCap := perMarketSoftCap(cfg.MaxOpenOrders, snap.ActiveMarketCount)
	if snap.OpenOrderCount >= softCap {
		return false, "per-market soft cap reached"
	}

	// HOLD still admits SELLs; only BUYs are denied while holding.
	if snap.EngineMode == core.ModeHold && side == core.SideBuy {
		return false, "engine is HOLD: BUY placement denied"
	}

	if side == core.SideBuy {
		projected := snap.DeployedCapitalUSD.Add(snap.CandidateNotional)
		cap := cfg.BudgetUSD.Mul(cfg.MaxGridCapitalPct)
		if projected.GreaterThan(cap) {
			return false, "projected deployed capital exceeds max_grid_capital_pct of budget"
		}
	}

	return true, ""
}

// ShouldHold reports whether deployed_capital has reached the cap that
// forces the engine into HOLD (§4.1 RUNNING -> HOLD transition).
func (g *Governor) ShouldHold(snap core.RiskSnapshot) bool {
	cap := snap.Config.BudgetUSD.Mul(snap.Config.MaxGridCapitalPct)
	return snap.DeployedCapitalUSD.GreaterThanOrEqual(cap)
}

// perMarketSoftCap implements §4.2's soft cap = max_open_orders //
// active_market_count; with Highlander enforcing exactly one active
// market this always equals max_open_orders, but the formula is kept
// general in case a future relaxation of Highlander allows more than one.
func perMarketSoftCap(maxOpenOrders, activeMarketCount int) int {
	if activeMarketCount <= 0 {
		activeMarketCount = 1
	}
	return maxOpenOrders / activeMarketCount
}

var _ core.IRiskGovernor = (*Governor)(nil)

// deployedCapitalUSD sums buy_price * buy_size for every Lot not yet
// CLOSED. The Engine's own riskSnapshot computes deployed capital
// separately and does not call it.
func deployedCapitalUSD(lots []core.Lot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lots {
		if l.Status == core.LotClosed {
			continue
		}
		total = total.Add(l.BuyPrice.Mul(l.BuySize))
	}
	return total
}

// DeployedCapitalUSD exposes deployedCapitalUSD to other packages.
func DeployedCapitalUSD(lots []core.Lot) decimal.Decimal {
	return deployedCapitalUSD(lots)
}
