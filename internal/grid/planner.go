// Package grid implements the GridPlanner pure function (§4.3): given
// price, anchor_high, and Config it derives the Staging Band's desired
// BUY price levels and sizes, and the paired sell price for a given buy.
package grid

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

// Planner implements core.IGridPlanner. It holds no mutable state;
// identical inputs always yield identical, deterministically-ordered
// output.
type Planner struct{}

// NewPlanner constructs a Planner.
func NewPlanner() *Planner { return &Planner{} }

// DesiredLevels computes the ordered (decreasing price) set of BUY
// levels the staging band should contain.
func (p *Planner) DesiredLevels(price, anchorHigh decimal.Decimal, cfg core.Config, availableCapitalUSD decimal.Decimal) ([]core.GridLevel, error) {
	if cfg.GridStepPct.IsZero() || cfg.GridStepPct.IsNegative() {
		return nil, fmt.Errorf("grid_step_pct must be > 0")
	}

	gridTop := anchorHigh
	if cfg.BufferEnabled {
		gridTop = anchorHigh.Mul(decimal.NewFromInt(1).Sub(cfg.BufferPct))
	}

	bandHi := decimal.Min(price, gridTop)
	bandLo := price.Mul(decimal.NewFromInt(1).Sub(cfg.StagingBandDepthPct))

	oneMinusStep := decimal.NewFromInt(1).Sub(cfg.GridStepPct)

	var levels []decimal.Decimal
	cur := bandHi
	for k := 0; k < cfg.MaxBandOrders; k++ {
		cur = cur.Mul(oneMinusStep)
		if cur.LessThan(bandLo) && len(levels) >= cfg.MinBandOrders {
			break
		}
		levels = append(levels, cur)
		if len(levels) >= cfg.MaxBandOrders {
			break
		}
	}

	// The staging_band_depth_pct=0 boundary case yields bandLo == bandHi
	// immediately; the loop above still needs to produce MinBandOrders
	// levels by widening downward, which the "len(levels) >= MinBandOrders"
	// guard already allows (it only breaks once both the depth and the
	// minimum are satisfied).

	targetOrderCount := len(levels)
	if targetOrderCount == 0 {
		targetOrderCount = 1
	}

	out := make([]core.GridLevel, 0, len(levels))
	for _, l := range levels {
		sizeUSD := p.sizeUSD(cfg, availableCapitalUSD, targetOrderCount)
		sizeBase := sizeUSD.Div(l)
		out = append(out, core.GridLevel{Price: l, Size: sizeBase})
	}

	return out, nil
}

func (p *Planner) sizeUSD(cfg core.Config, availableCapitalUSD decimal.Decimal, targetOrderCount int) decimal.Decimal {
	switch cfg.SizingMode {
	case core.SizingFixedUSD:
		return cfg.FixedUSDPerTrade
	case core.SizingCapitalPct:
		return availableCapitalUSD.Mul(cfg.CapitalPctPerTrade)
	case core.SizingBudgetSplit:
		fallthrough
	default:
		return cfg.BudgetUSD.Div(decimal.NewFromInt(int64(targetOrderCount)))
	}
}

// SellPrice computes the paired sell price for a buy, per the configured
// ProfitMode (§4.3). The STEP and STEP_REINVEST formulas are identical;
// STEP_REINVEST's distinction is in how the *next* buy's size is
// computed (via up-to-date balance reads in sizeUSD/CAPITAL_PCT), not in
// the sell-price formula itself.
func (p *Planner) SellPrice(buyPrice decimal.Decimal, cfg core.Config, monthRealizedPnLUSD decimal.Decimal) decimal.Decimal {
	switch cfg.ProfitMode {
	case core.ProfitCustom:
		return buyPrice.Mul(decimal.NewFromInt(1).Add(cfg.CustomProfitPct))
	case core.ProfitSmartReinvest:
		// The sell-price formula is the plain step formula regardless of
		// which side of the monthly target we're on; SMART_REINVEST's
		// distinction is in buy sizing (see ConservativeBuySizeMultiplier),
		// exactly like STEP_REINVEST's distinction is in buy sizing.
		return buyPrice.Mul(decimal.NewFromInt(1).Add(cfg.GridStepPct))
	case core.ProfitStep, core.ProfitStepReinvest:
		fallthrough
	default:
		return buyPrice.Mul(decimal.NewFromInt(1).Add(cfg.GridStepPct))
	}
}

// ConservativeBuySizeMultiplier resolves the SMART_REINVEST Open
// Question (§9): while the current UTC month's realized PnL is below
// MonthlyProfitTargetUSD, buy sizing is scaled by cfg.ConservativeMultiplier;
// once the target is met for the month, full size resumes. The month
// boundary is UTC first-of-month (scenario 6): the caller is responsible
// for computing monthRealizedPnLUSD over the current UTC month only, so
// the multiplier always resets at 00:00 UTC on the 1st regardless of
// whether the prior month's target was hit.
func ConservativeBuySizeMultiplier(cfg core.Config, monthRealizedPnLUSD decimal.Decimal) decimal.Decimal {
	if cfg.ProfitMode != core.ProfitSmartReinvest {
		return decimal.NewFromInt(1)
	}
	if monthRealizedPnLUSD.LessThan(cfg.MonthlyProfitTargetUSD) {
		return cfg.ConservativeMultiplier
	}
	return decimal.NewFromInt(1)
}

// CurrentUTCMonthStart returns the start of the UTC month containing t,
// used by the LotManager and the HTTP API to window realized-PnL queries.
func CurrentUTCMonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

var _ core.IGridPlanner = (*Planner)(nil)
