package engine

import (
	"context"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/shopspring/decimal"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

// DurableWorkflows wraps Engine's tick and fill handling as DBOS
// workflows: each workflow runs the whole Engine handler as a single
// dbos.RunAsStep, so a recovered workflow whose step already completed
// does not run the handler again. A crash inside the step re-runs the
// whole handler; the phases are not checkpointed individually.
// Grounded on the teacher's internal/engine/durable TradingWorkflows,
// generalized from slot-action execution to grid reconciliation.
type DurableWorkflows struct {
	eng *Engine
}

// NewDurableWorkflows wraps an Engine for DBOS-driven execution.
func NewDurableWorkflows(eng *Engine) *DurableWorkflows {
	return &DurableWorkflows{eng: eng}
}

type priceUpdateInput struct {
	Price     decimal.Decimal
	Timestamp time.Time
}

// OnPriceUpdateWorkflow is the durable counterpart of Engine.OnPriceUpdate:
// the whole tick is one step, so a retried workflow (same DBOS workflow
// ID) whose step is recorded as completed does not run the tick again.
func (w *DurableWorkflows) OnPriceUpdateWorkflow(ctx dbos.DBOSContext, input any) (any, error) {
	in := input.(priceUpdateInput)

	_, err := ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		return nil, w.eng.OnPriceUpdate(stepCtx, in.Price, in.Timestamp)
	})
	return nil, err
}

// OnFillWorkflow is the durable counterpart of Engine.OnFill: the lot
// mutation (creating a Lot on a BUY fill, closing it on a SELL fill) and
// the event-bus publish run together as one step, so a recovered workflow
// whose step completed does not apply the fill again; a crash inside the
// step re-runs OnFill from the start.
func (w *DurableWorkflows) OnFillWorkflow(ctx dbos.DBOSContext, input any) (any, error) {
	f := input.(core.Fill)

	_, err := ctx.RunAsStep(ctx, func(stepCtx context.Context) (any, error) {
		return nil, w.eng.OnFill(stepCtx, f)
	})
	return nil, err
}
