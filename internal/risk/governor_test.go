package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

func baseConfig() core.Config {
	return core.Config{
		GridStepPct:       decimal.NewFromFloat(0.01),
		BudgetUSD:         decimal.NewFromInt(1000),
		MaxOpenOrders:     10,
		MaxGridCapitalPct: decimal.NewFromFloat(0.70),
		PaperMode:         true,
	}
}

func TestAdmitOrder_DeniesWhenPausedOrStopped(t *testing.T) {
	g := NewGovernor()
	for _, mode := range []core.EngineMode{core.ModePaused, core.ModeStopped} {
		snap := core.RiskSnapshot{Config: baseConfig(), EngineMode: mode}
		admitted, reason := g.AdmitOrder(snap, core.GridLevel{}, core.SideBuy)
		assert.False(t, admitted)
		assert.Contains(t, reason, string(mode))
	}
}

func TestAdmitOrder_DeniesWhenLiveAndPaperBothDisabled(t *testing.T) {
	g := NewGovernor()
	cfg := baseConfig()
	cfg.LiveTradingEnabled = false
	cfg.PaperMode = false
	snap := core.RiskSnapshot{Config: cfg, EngineMode: core.ModeRunning}
	admitted, reason := g.AdmitOrder(snap, core.GridLevel{}, core.SideBuy)
	assert.False(t, admitted)
	assert.Contains(t, reason, "live trading disabled")
}

func TestAdmitOrder_DeniesAtMaxOpenOrders(t *testing.T) {
	g := NewGovernor()
	cfg := baseConfig()
	snap := core.RiskSnapshot{Config: cfg, EngineMode: core.ModeRunning, OpenOrderCount: cfg.MaxOpenOrders, ActiveMarketCount: 1}
	admitted, reason := g.AdmitOrder(snap, core.GridLevel{}, core.SideBuy)
	assert.False(t, admitted)
	assert.Contains(t, reason, "max_open_orders")
}

func TestAdmitOrder_PerMarketSoftCapEqualsHardCapUnderHighlander(t *testing.T) {
	g := NewGovernor()
	cfg := baseConfig()
	cfg.MaxOpenOrders = 10
	snap := core.RiskSnapshot{Config: cfg, EngineMode: core.ModeRunning, OpenOrderCount: 9, ActiveMarketCount: 1}
	admitted, _ := g.AdmitOrder(snap, core.GridLevel{}, core.SideBuy)
	assert.True(t, admitted, "soft cap == hard cap with exactly one active market")
}

func TestAdmitOrder_HoldDeniesBuyButAdmitsSell(t *testing.T) {
	g := NewGovernor()
	cfg := baseConfig()
	snap := core.RiskSnapshot{Config: cfg, EngineMode: core.ModeHold, ActiveMarketCount: 1}

	admitted, reason := g.AdmitOrder(snap, core.GridLevel{}, core.SideBuy)
	assert.False(t, admitted)
	assert.Contains(t, reason, "HOLD")

	admitted, _ = g.AdmitOrder(snap, core.GridLevel{}, core.SideSell)
	assert.True(t, admitted, "HOLD must still admit SELL placements")
}

func TestAdmitOrder_DeniesWhenCapitalCapWouldBeExceeded(t *testing.T) {
	g := NewGovernor()
	cfg := baseConfig() // budget 1000, cap 70% = 700
	snap := core.RiskSnapshot{
		Config:             cfg,
		EngineMode:         core.ModeRunning,
		ActiveMarketCount:  1,
		DeployedCapitalUSD: decimal.NewFromInt(650),
		CandidateNotional:  decimal.NewFromInt(100),
	}
	admitted, reason := g.AdmitOrder(snap, core.GridLevel{}, core.SideBuy)
	assert.False(t, admitted)
	assert.Contains(t, reason, "max_grid_capital_pct")
}

func TestAdmitOrder_AdmitsOrdinaryBuyWithinCaps(t *testing.T) {
	g := NewGovernor()
	cfg := baseConfig()
	snap := core.RiskSnapshot{
		Config:             cfg,
		EngineMode:         core.ModeRunning,
		ActiveMarketCount:  1,
		OpenOrderCount:     3,
		DeployedCapitalUSD: decimal.NewFromInt(100),
		CandidateNotional:  decimal.NewFromInt(50),
	}
	admitted, reason := g.AdmitOrder(snap, core.GridLevel{}, core.SideBuy)
	require.True(t, admitted, reason)
}

func TestShouldHold(t *testing.T) {
	g := NewGovernor()
	cfg := baseConfig() // cap = 700
	tests := []struct {
		deployed decimal.Decimal
		want     bool
	}{
		{decimal.NewFromInt(699), false},
		{decimal.NewFromInt(700), true},
		{decimal.NewFromInt(701), true},
	}
	for _, tc := range tests {
		snap := core.RiskSnapshot{Config: cfg, DeployedCapitalUSD: tc.deployed}
		assert.Equal(t, tc.want, g.ShouldHold(snap))
	}
}

func TestTransientFailureBreakerTripsAfterThreshold(t *testing.T) {
	b := NewTransientFailureBreaker(3, time.Minute)
	assert.False(t, b.Tripped())
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.Tripped())
	b.RecordFailure()
	assert.True(t, b.Tripped())

	b.RecordSuccess()
	assert.False(t, b.Tripped(), "a success resets the consecutive-failure counter")
}

func TestDeployedCapitalUSD_ExcludesClosedLots(t *testing.T) {
	lots := []core.Lot{
		{Status: core.LotOpen, BuyPrice: decimal.NewFromInt(100), BuySize: decimal.NewFromInt(1)},
		{Status: core.LotSellPlaced, BuyPrice: decimal.NewFromInt(50), BuySize: decimal.NewFromInt(2)},
		{Status: core.LotClosed, BuyPrice: decimal.NewFromInt(1000), BuySize: decimal.NewFromInt(5)},
	}
	got := DeployedCapitalUSD(lots)
	assert.True(t, got.Equal(decimal.NewFromInt(200)), "expected 100*1 + 50*2 = 200, got %s", got)
}
