// Package engine implements the tick loop and top-level state machine
// (§4.1): STOPPED -> RUNNING -> HOLD -> PAUSED transitions, the Engine
// orchestrates GridPlanner, LotManager, Reconciler, RiskGovernor and
// EventBus around a single ExchangeAdapter. Only one market may be
// RUNNING at a time (the Highlander invariant, I1; see highlander.go).
//
// Grounded on the teacher's internal/engine/gridengine GridCoordinator:
// a mutex-serialized OnPriceUpdate handler that recomputes desired
// state, executes the delta, and persists, generalized from slot
// actions to grid-level reconciliation and widened to a seven-phase
// tick (refresh state, ingest price, update anchor, compute grid,
// ingest fills, reconcile, publish).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/grid"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/apperrors"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/telemetry"
)

// Engine is the tick-loop orchestrator for one market at a time.
type Engine struct {
	store     core.IStore
	exchange  core.IExchangeAdapter
	planner   core.IGridPlanner
	lots      core.ILotManager
	reconciler core.IReconciler
	risk      core.IRiskGovernor
	bus       core.IEventBus
	logger    core.ILogger
	breaker   transientBreaker

	mu          sync.Mutex
	marketID    string
	cfg         core.Config
	lastPrice   decimal.Decimal
	mode        core.EngineMode
	anchorHigh  decimal.Decimal
}

// transientBreaker is the subset of risk.TransientFailureBreaker the
// Engine depends on (an interface so tests can inject a fake).
type transientBreaker interface {
	RecordFailure()
	RecordSuccess()
	Tripped() bool
}

// Deps bundles the Engine's collaborators.
type Deps struct {
	Store      core.IStore
	Exchange   core.IExchangeAdapter
	Planner    core.IGridPlanner
	Lots       core.ILotManager
	Reconciler core.IReconciler
	Risk       core.IRiskGovernor
	Bus        core.IEventBus
	Logger     core.ILogger
	Breaker    transientBreaker
}

// New constructs an Engine in STOPPED mode.
func New(d Deps) *Engine {
	return &Engine{
		store:      d.Store,
		exchange:   d.Exchange,
		planner:    d.Planner,
		lots:       d.Lots,
		reconciler: d.Reconciler,
		risk:       d.Risk,
		bus:        d.Bus,
		logger:     d.Logger.With("component", "engine"),
		breaker:    d.Breaker,
		mode:       core.ModeStopped,
	}
}

// Start transitions STOPPED -> RUNNING for marketID: it loads the
// persisted BotState (warm boot) and runs the exhaustive startup
// reconciliation (§4.6) before accepting ticks.
func (e *Engine) Start(ctx context.Context, marketID string, cfg core.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode != core.ModeStopped {
		return fmt.Errorf("engine already active for market %s in mode %s", e.marketID, e.mode)
	}

	state, err := e.store.GetBotState(ctx, marketID)
	if err != nil {
		return fmt.Errorf("load bot state: %w", err)
	}

	if err := e.reconciler.ReconcileStartup(ctx, marketID); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	e.marketID = marketID
	e.cfg = cfg
	e.mode = core.ModeRunning
	e.anchorHigh = state.AnchorHigh

	e.publishStateChange(core.ModeStopped, core.ModeRunning)
	e.logger.Info("engine started", "market", marketID, "anchor_high", e.anchorHigh)
	return e.persistState(ctx)
}

// Stop transitions to STOPPED. Resting orders are left untouched; the
// next Start runs a fresh startup reconciliation against them.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == core.ModeStopped {
		return nil
	}

	prev := e.mode
	e.mode = core.ModeStopped
	e.publishStateChange(prev, core.ModeStopped)
	e.logger.Info("engine stopped", "market", e.marketID)
	return e.persistState(ctx)
}

// Pause transitions RUNNING/HOLD -> PAUSED (operator-initiated kill
// switch, §4.1). No further order placement happens until Resume.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == core.ModeStopped || e.mode == core.ModePaused {
		return nil
	}
	prev := e.mode
	e.mode = core.ModePaused
	e.publishStateChange(prev, core.ModePaused)
	e.logger.Warn("engine paused", "market", e.marketID)
	return e.persistState(ctx)
}

// Resume transitions PAUSED -> RUNNING.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != core.ModePaused {
		return fmt.Errorf("cannot resume: engine is %s", e.mode)
	}
	e.mode = core.ModeRunning
	e.publishStateChange(core.ModePaused, core.ModeRunning)
	e.logger.Info("engine resumed", "market", e.marketID)
	return e.persistState(ctx)
}

// Mode reports the current EngineMode.
func (e *Engine) Mode() core.EngineMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Exchange exposes the Engine's ExchangeAdapter for direct use by the
// HTTP API (e.g. order cancellation, product listing) outside the tick
// loop's own mutex-protected path.
func (e *Engine) Exchange() core.IExchangeAdapter {
	return e.exchange
}

// OnPriceUpdate runs one tick: it is the Engine's single entrypoint for
// the price-driven seven-phase cycle. Serialized by e.mu, matching the
// teacher's mutex-guarded OnPriceUpdate.
func (e *Engine) OnPriceUpdate(ctx context.Context, price decimal.Decimal, ts time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == core.ModeStopped || e.mode == core.ModePaused {
		return nil
	}

	// Phase 1: refresh state (bot state and active config are already
	// held on e; re-reading it here would race with Start/Stop, which
	// hold the same lock).

	// Phase 2: ingest price.
	e.lastPrice = price
	e.bus.Publish(core.BusEvent{Type: core.EventPriceUpdate, Data: priceUpdatePayload{MarketID: e.marketID, Price: price, Timestamp: ts}})

	// Phase 3: update anchor (Add-Only Rebase, §4.3: the anchor only
	// ever moves up).
	if e.anchorHigh.IsZero() || price.GreaterThan(e.anchorHigh) {
		e.anchorHigh = price
	}

	// Phase 4: compute grid.
	snapshot, err := e.riskSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("risk snapshot: %w", err)
	}

	if e.risk.ShouldHold(snapshot) && e.mode == core.ModeRunning {
		e.mode = core.ModeHold
		e.publishStateChange(core.ModeRunning, core.ModeHold)
	} else if !e.risk.ShouldHold(snapshot) && e.mode == core.ModeHold {
		e.mode = core.ModeRunning
		e.publishStateChange(core.ModeHold, core.ModeRunning)
	}
	// The snapshot handed to the planner/reconciler must reflect the
	// possibly-just-transitioned mode, not the pre-transition read above,
	// so a HOLD entered this very tick immediately denies new BUYs (§4.2).
	snapshot.EngineMode = e.mode

	desired, err := e.planner.DesiredLevels(price, e.anchorHigh, e.cfg, e.availableCapitalUSD(snapshot))
	if err != nil {
		return fmt.Errorf("compute desired levels: %w", err)
	}
	desired = e.applyConservativeSizing(ctx, desired)

	// Phase 5: resubmit SELLs for OPEN Lots that have no sell order yet.
	// Fills are not ingested here: stream fills go straight to OnFill, and
	// fills missed while offline are replayed by the Reconciler at startup.
	if err := e.lots.RetryUnplacedSells(ctx, e.marketID, e.cfg); err != nil {
		e.logger.Warn("retry unplaced sells failed", "error", err)
	}

	// Phase 6: reconcile desired vs. open orders.
	tickFailed := false
	if err := e.reconciler.ReconcileTick(ctx, e.marketID, desired, e.cfg, snapshot); err != nil {
		tickFailed = true
		if apperrors.IsTransient(err) {
			if e.breaker != nil {
				e.breaker.RecordFailure()
				if e.breaker.Tripped() {
					e.mode = core.ModeHold
					e.publishStateChange(core.ModeRunning, core.ModeHold)
					e.logger.Error("transient failure threshold tripped: forcing HOLD", "error", err)
				}
			}
		} else {
			e.logger.Error("reconcile tick failed", "error", err)
		}
	} else if e.breaker != nil {
		e.breaker.RecordSuccess()
	}
	telemetry.GetGlobalMetrics().TickCompleted(ctx, tickFailed)

	// Phase 7: persist.
	return e.persistState(ctx)
}

// OnFill is invoked by the StreamFills callback that Engine.Run installs
// (outside e.mu) for every exchange fill event.
func (e *Engine) OnFill(ctx context.Context, f core.Fill) error {
	e.mu.Lock()
	marketID, cfg := e.marketID, e.cfg
	e.mu.Unlock()

	if f.MarketID != marketID {
		return nil
	}

	var err error
	if f.Side == core.SideBuy {
		err = e.lots.OnBuyFill(ctx, f, cfg)
	} else {
		err = e.lots.OnSellFill(ctx, f)
	}
	if err != nil {
		return err
	}

	e.bus.Publish(core.BusEvent{Type: core.EventOrderFilled, Data: f})
	return nil
}

// Run drives the tick loop from the ExchangeAdapter's streaming
// callbacks: StreamTicker feeds OnPriceUpdate, StreamFills feeds
// OnFill. It blocks until ctx is canceled; the Supervisor runs it in a
// background goroutine per active market and cancels it on a Highlander
// switch or Stop.
func (e *Engine) Run(ctx context.Context) error {
	marketID := e.marketID

	errCh := make(chan error, 2)
	go func() {
		errCh <- e.exchange.StreamTicker(ctx, marketID, func(price decimal.Decimal, ts time.Time) {
			if err := e.OnPriceUpdate(ctx, price, ts); err != nil {
				e.logger.Error("tick failed", "error", err)
			}
		})
	}()
	go func() {
		errCh <- e.exchange.StreamFills(ctx, func(f core.Fill) {
			if err := e.OnFill(ctx, f); err != nil {
				e.logger.Error("fill ingestion failed", "error", err)
			}
		})
	}()

	err := <-errCh
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

type priceUpdatePayload struct {
	MarketID  string
	Price     decimal.Decimal
	Timestamp time.Time
}

func (e *Engine) publishStateChange(from, to core.EngineMode) {
	e.bus.Publish(core.BusEvent{Type: core.EventStateChange, Data: stateChangePayload{MarketID: e.marketID, From: from, To: to}})
}

type stateChangePayload struct {
	MarketID string
	From     core.EngineMode
	To       core.EngineMode
}

func (e *Engine) persistState(ctx context.Context) error {
	return e.store.PutBotState(ctx, core.BotState{
		MarketID:   e.marketID,
		AnchorHigh: e.anchorHigh,
		GridTop:    e.anchorHigh,
		Mode:       e.mode,
		LastTickAt: time.Now(),
	})
}

func (e *Engine) riskSnapshot(ctx context.Context) (core.RiskSnapshot, error) {
	openOrders, err := e.store.ListOpenOrders(ctx, e.marketID)
	if err != nil {
		return core.RiskSnapshot{}, err
	}
	lots, err := e.store.ListOpenLots(ctx, e.marketID)
	if err != nil {
		return core.RiskSnapshot{}, err
	}

	deployed := decimal.Zero
	for _, l := range lots {
		deployed = deployed.Add(l.BuyPrice.Mul(l.BuySize))
	}

	return core.RiskSnapshot{
		Config:             e.cfg,
		EngineMode:         e.mode,
		OpenOrderCount:     len(openOrders),
		ActiveMarketCount:  1,
		DeployedCapitalUSD: deployed,
	}, nil
}

func (e *Engine) availableCapitalUSD(snap core.RiskSnapshot) decimal.Decimal {
	cap := e.cfg.BudgetUSD.Mul(e.cfg.MaxGridCapitalPct)
	remaining := cap.Sub(snap.DeployedCapitalUSD)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// applyConservativeSizing scales every desired BUY level's size by
// SMART_REINVEST's conservative multiplier (§8 scenario 6) whenever the
// current UTC month's realized PnL still trails MonthlyProfitTargetUSD.
// It is a no-op outside SMART_REINVEST, so ReconcileTick and the
// planner's own sizing math are untouched for every other ProfitMode.
func (e *Engine) applyConservativeSizing(ctx context.Context, levels []core.GridLevel) []core.GridLevel {
	if e.cfg.ProfitMode != core.ProfitSmartReinvest || len(levels) == 0 {
		return levels
	}

	monthPnL, err := e.lots.MonthRealizedPnLUSD(ctx, e.marketID, time.Now())
	if err != nil {
		e.logger.Warn("month realized pnl lookup failed; using full buy size", "error", err)
		return levels
	}

	mult := grid.ConservativeBuySizeMultiplier(e.cfg, monthPnL)
	if mult.Equal(decimal.NewFromInt(1)) {
		return levels
	}

	scaled := make([]core.GridLevel, len(levels))
	for i, l := range levels {
		scaled[i] = core.GridLevel{Price: l.Price, Size: l.Size.Mul(mult)}
	}
	return scaled
}
