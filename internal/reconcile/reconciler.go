// Package reconcile implements the Reconciler (§4.6): it aligns Store
// state against the exchange's view of truth, both once at startup
// (blocking, exhaustive) and once per tick (cheap, bounded).
package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/apperrors"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/telemetry"
)

// Reconciler implements core.IReconciler.
type Reconciler struct {
	store     core.IStore
	exchange  core.IExchangeAdapter
	lots      core.ILotManager
	risk      core.IRiskGovernor
	logger    core.ILogger

	tickK           int
	cooldownTicks   int
}

// NewReconciler constructs a Reconciler. defaultK is the per-tick cancel/
// placement budget (spec default 10).
func NewReconciler(store core.IStore, exchange core.IExchangeAdapter, lots core.ILotManager, risk core.IRiskGovernor, logger core.ILogger, defaultK int) *Reconciler {
	if defaultK <= 0 {
		defaultK = 10
	}
	return &Reconciler{
		store:    store,
		exchange: exchange,
		lots:     lots,
		risk:     risk,
		logger:   logger.With("component", "reconciler"),
		tickK:    defaultK,
	}
}

// ReconcileStartup performs the blocking startup pass (§4.6): matched /
// orphan-exchange / orphan-local classification, ghost-order
// cancellation, historical-fill replay, and Lot-pairing rebuild.
func (r *Reconciler) ReconcileStartup(ctx context.Context, marketID string) error {
	r.logger.Info("startup reconciliation begin", "market_id", marketID)

	localOpen, err := r.store.ListOpenOrders(ctx, marketID)
	if err != nil {
		return &apperrors.StoreError{Op: "ReconcileStartup.listLocal", Err: err}
	}

	exchangeOpen, err := r.exchange.ListOpenOrders(ctx, marketID)
	if err != nil {
		return &apperrors.ReconciliationError{Detail: "fetching exchange open orders", Err: err}
	}

	localByID := make(map[string]core.Order, len(localOpen))
	for _, o := range localOpen {
		localByID[o.ID] = o
	}
	exchangeByID := make(map[string]core.Order, len(exchangeOpen))
	for _, o := range exchangeOpen {
		exchangeByID[o.ID] = o
	}

	// Orphan-exchange: on exchange, not in DB. Every exchange order whose
	// id has no OPEN row in the Store is canceled to keep state pristine;
	// client_tag is not consulted.
	for _, eo := range exchangeOpen {
		if _, ok := localByID[eo.ID]; ok {
			continue
		}
		r.logger.Warn("canceling orphan exchange order", "order_id", eo.ID, "market_id", marketID)
		if err := r.exchange.CancelOrder(ctx, eo.ID); err != nil {
			r.logger.Error("failed to cancel orphan exchange order", "order_id", eo.ID, "error", err)
		}
	}

	// Orphan-local: in DB OPEN, not on exchange. Check historical fills
	// since the last known fill for this market; if it filled, process
	// as in §4.4, else mark CANCELED.
	var lastFillAt time.Time
	if fills, err := r.store.ListFillsSince(ctx, marketID, time.Time{}); err == nil {
		for _, f := range fills {
			if f.Timestamp.After(lastFillAt) {
				lastFillAt = f.Timestamp
			}
		}
	}

	exchangeFills, err := r.exchange.GetFills(ctx, lastFillAt)
	if err != nil {
		return &apperrors.ReconciliationError{Detail: "fetching historical fills", Err: err}
	}
	fillsByOrderID := make(map[string][]core.Fill)
	for _, f := range exchangeFills {
		fillsByOrderID[f.OrderID] = append(fillsByOrderID[f.OrderID], f)
	}

	for _, lo := range localOpen {
		if _, ok := exchangeByID[lo.ID]; ok {
			continue // matched
		}
		fills := fillsByOrderID[lo.ID]
		if len(fills) == 0 {
			lo.Status = core.OrderCanceled
			if err := r.store.UpsertOrder(ctx, lo); err != nil {
				r.logger.Error("failed to mark orphan local order canceled", "order_id", lo.ID, "error", err)
			}
			continue
		}
		if err := r.replayFills(ctx, fills); err != nil {
			r.logger.Error("failed to replay fills for orphan local order", "order_id", lo.ID, "error", err)
		}
	}

	r.logger.Info("startup reconciliation complete", "market_id", marketID, "local_open", len(localOpen), "exchange_open", len(exchangeOpen))
	return nil
}

// replayFills processes fills in exchange-timestamp order, matching §5's
// ordering guarantee.
func (r *Reconciler) replayFills(ctx context.Context, fills []core.Fill) error {
	sort.Slice(fills, func(i, j int) bool { return fills[i].Timestamp.Before(fills[j].Timestamp) })
	for _, f := range fills {
		var err error
		switch f.Side {
		case core.SideBuy:
			cfg, cfgErr := r.store.GetConfig(ctx)
			if cfgErr != nil {
				return &apperrors.StoreError{Op: "replayFills.getConfig", Err: cfgErr}
			}
			err = r.lots.OnBuyFill(ctx, f, cfg)
		case core.SideSell:
			err = r.lots.OnSellFill(ctx, f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ReconcileTick performs the cheap, bounded per-tick pass (§4.6): diff
// desired grid levels vs. open orders, issue at most K cancels then K
// placements, cancels always ordered before placements so the
// max_open_orders cap is respected.
func (r *Reconciler) ReconcileTick(ctx context.Context, marketID string, desired []core.GridLevel, cfg core.Config, snapshot core.RiskSnapshot) error {
	open, err := r.store.ListOpenOrders(ctx, marketID)
	if err != nil {
		return &apperrors.StoreError{Op: "ReconcileTick.listOpen", Err: err}
	}

	var openBuys []core.Order
	for _, o := range open {
		if o.Side == core.SideBuy {
			openBuys = append(openBuys, o)
		}
	}

	desiredByPrice := make(map[string]core.GridLevel, len(desired))
	for _, d := range desired {
		desiredByPrice[d.Price.String()] = d
	}
	matchedPrices := make(map[string]bool)

	var toCancel []core.Order
	for _, o := range openBuys {
		if _, ok := desiredByPrice[o.Price.String()]; ok {
			matchedPrices[o.Price.String()] = true
			continue
		}
		toCancel = append(toCancel, o)
	}

	var toPlace []core.GridLevel
	for _, d := range desired {
		if !matchedPrices[d.Price.String()] {
			toPlace = append(toPlace, d)
		}
	}

	k := r.effectiveK()

	canceled := 0
	for _, o := range toCancel {
		if canceled >= k {
			break
		}
		if err := r.exchange.CancelOrder(ctx, o.ID); err != nil {
			if apperrors.IsTransient(err) {
				r.onTransientFailure()
				break
			}
			r.logger.Error("cancel failed during tick reconciliation", "order_id", o.ID, "error", err)
			continue
		}
		o.Status = core.OrderCanceled
		if err := r.store.UpsertOrder(ctx, o); err != nil {
			r.logger.Error("failed to persist canceled order", "order_id", o.ID, "error", err)
		}
		canceled++
		snapshot.OpenOrderCount--
		telemetry.GetGlobalMetrics().OrderCanceled(ctx)
	}

	if r.cooldownTicks > 0 {
		r.cooldownTicks--
		r.logger.Info("placement gated by cooldown", "remaining_ticks", r.cooldownTicks)
		return nil
	}

	placed := 0
	for _, lvl := range toPlace {
		if placed >= k {
			break
		}

		notional := lvl.Price.Mul(lvl.Size)
		admitSnapshot := snapshot
		admitSnapshot.CandidateNotional = notional
		if admitted, reason := r.risk.AdmitOrder(admitSnapshot, lvl, core.SideBuy); !admitted {
			r.logger.Info("buy placement denied by risk governor", "price", lvl.Price, "reason", reason)
			telemetry.GetGlobalMetrics().RiskDenied(ctx)
			continue
		}

		clientTag := "buy-" + marketID + "-" + lvl.Price.String()
		orderID, err := r.exchange.PlaceLimitOrder(ctx, marketID, core.SideBuy, lvl.Price, lvl.Size, clientTag, true)
		if err != nil {
			if apperrors.IsTransient(err) {
				r.onTransientFailure()
				break
			}
			r.logger.Error("placement failed during tick reconciliation", "price", lvl.Price, "error", err)
			continue
		}
		o := core.Order{
			ID:        orderID,
			ClientTag: clientTag,
			MarketID:  marketID,
			Side:      core.SideBuy,
			Price:     lvl.Price,
			Size:      lvl.Size,
			Status:    core.OrderOpen,
			CreatedAt: time.Now(),
		}
		if err := r.store.UpsertOrder(ctx, o); err != nil {
			r.logger.Error("failed to persist placed order", "order_id", orderID, "error", err)
		}
		placed++
		snapshot.OpenOrderCount++
		snapshot.DeployedCapitalUSD = snapshot.DeployedCapitalUSD.Add(notional)
		telemetry.GetGlobalMetrics().OrderPlaced(ctx, string(core.SideBuy))
	}

	return nil
}

// effectiveK halves the per-tick budget (floor 1) while a backoff
// cooldown is active.
func (r *Reconciler) effectiveK() int {
	if r.cooldownTicks > 0 {
		half := r.tickK / 2
		if half < 1 {
			half = 1
		}
		return half
	}
	return r.tickK
}

// onTransientFailure implements the §4.6 backoff: a 429/5xx halves the
// per-tick budget and starts a cooldown gating placement for
// ceil(cooldown/T) ticks. T is folded into cooldownTicks directly by the
// caller's tick cadence, so this just arms a fixed number of gated ticks.
func (r *Reconciler) onTransientFailure() {
	r.cooldownTicks = 5
	r.logger.Warn("transient exchange failure during reconciliation, cooldown armed", "cooldown_ticks", r.cooldownTicks)
}

var _ core.IReconciler = (*Reconciler)(nil)
