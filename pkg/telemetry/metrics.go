package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine-level instruments. Every counter/gauge a
// component needs is resolved once at Init and reused; callers never
// create their own instruments.
type Metrics struct {
	mu sync.RWMutex

	ticksTotal          metric.Int64Counter
	ticksFailedTotal    metric.Int64Counter
	ordersPlacedTotal   metric.Int64Counter
	ordersCanceledTotal metric.Int64Counter
	fillsProcessedTotal metric.Int64Counter
	reconcileErrTotal   metric.Int64Counter
	riskDeniedTotal     metric.Int64Counter
	openOrdersGauge     metric.Int64UpDownCounter
}

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// GetGlobalMetrics returns the process-wide Metrics instance.
func GetGlobalMetrics() *Metrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = &Metrics{}
	})
	return globalMetrics
}

// Init resolves every instrument against meter. Must be called once
// after the MeterProvider is installed.
func (m *Metrics) Init(meter metric.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.ticksTotal, err = meter.Int64Counter("gridbot_ticks_total"); err != nil {
		return err
	}
	if m.ticksFailedTotal, err = meter.Int64Counter("gridbot_ticks_failed_total"); err != nil {
		return err
	}
	if m.ordersPlacedTotal, err = meter.Int64Counter("gridbot_orders_placed_total"); err != nil {
		return err
	}
	if m.ordersCanceledTotal, err = meter.Int64Counter("gridbot_orders_canceled_total"); err != nil {
		return err
	}
	if m.fillsProcessedTotal, err = meter.Int64Counter("gridbot_fills_processed_total"); err != nil {
		return err
	}
	if m.reconcileErrTotal, err = meter.Int64Counter("gridbot_reconcile_errors_total"); err != nil {
		return err
	}
	if m.riskDeniedTotal, err = meter.Int64Counter("gridbot_risk_denied_total"); err != nil {
		return err
	}
	if m.openOrdersGauge, err = meter.Int64UpDownCounter("gridbot_open_orders"); err != nil {
		return err
	}
	return nil
}

func (m *Metrics) TickCompleted(ctx context.Context, failed bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ticksTotal == nil {
		return
	}
	m.ticksTotal.Add(ctx, 1)
	if failed {
		m.ticksFailedTotal.Add(ctx, 1)
	}
}

func (m *Metrics) OrderPlaced(ctx context.Context, side string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ordersPlacedTotal == nil {
		return
	}
	m.ordersPlacedTotal.Add(ctx, 1, metric.WithAttributes())
	_ = side
}

func (m *Metrics) OrderCanceled(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ordersCanceledTotal == nil {
		return
	}
	m.ordersCanceledTotal.Add(ctx, 1)
}

func (m *Metrics) FillProcessed(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fillsProcessedTotal == nil {
		return
	}
	m.fillsProcessedTotal.Add(ctx, 1)
}

func (m *Metrics) ReconcileError(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.reconcileErrTotal == nil {
		return
	}
	m.reconcileErrTotal.Add(ctx, 1)
}

func (m *Metrics) RiskDenied(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.riskDeniedTotal == nil {
		return
	}
	m.riskDeniedTotal.Add(ctx, 1)
}

func (m *Metrics) SetOpenOrders(ctx context.Context, delta int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.openOrdersGauge == nil {
		return
	}
	m.openOrdersGauge.Add(ctx, delta)
}
