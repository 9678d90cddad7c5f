// Package bootstrap is the composition root: it loads configuration,
// wires the Store, ExchangeAdapter, EventBus, GridPlanner, LotManager,
// Reconciler, RiskGovernor and Engine together, and runs the HTTP API
// and tick loop under one errgroup-managed lifecycle.
//
// Grounded on the teacher's internal/bootstrap/app.go: the
// signal.NotifyContext + errgroup.Run(runners...) shutdown pattern is
// carried over unchanged; the dependency wiring itself is new, since the
// teacher's App leaves that step as a placeholder.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/config"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/engine"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/eventbus"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/exchange/coinbase"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/exchange/mockadapter"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/grid"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/httpapi"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/lot"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/reconcile"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/risk"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/store"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/concurrency"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/logging"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/telemetry"
)

// App holds every wired dependency of a running process.
type App struct {
	Cfg    *config.AppConfig
	Logger core.ILogger
	Store  core.IStore
	Bus    core.IEventBus

	Telemetry  *telemetry.Telemetry
	Supervisor *engine.Supervisor
	HTTPAPI    *httpapi.Server

	execPool *concurrency.WorkerPool
}

// Runner is a component the App's errgroup lifecycle drives; Run must
// block until ctx is canceled or a fatal error occurs.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// New bootstraps every dependency for a fresh process: config, logging,
// telemetry, the sqlite store, the EventBus, the exchange-specific
// Engine factory, and the HTTP API.
func New(envFile string) (*App, error) {
	appCfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := appCfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logger := logging.New(appCfg.LogLevel)

	tel, err := telemetry.Setup("gridbot")
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	st, err := store.Open(appCfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := seedDefaultConfig(st, logger); err != nil {
		return nil, fmt.Errorf("seed default config: %w", err)
	}

	bus := eventbus.NewBus(eventbus.DefaultQueueDepth, logger)
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{}, logger)

	supervisor := engine.NewSupervisor(st, logger, func(marketID string) (*engine.Engine, error) {
		return buildEngine(appCfg, st, bus, marketID, logger)
	})

	api := httpapi.New(st, bus, supervisor, appCfg, logger)

	return &App{
		Cfg:        appCfg,
		Logger:     logger,
		Store:      st,
		Bus:        bus,
		Telemetry:  tel,
		Supervisor: supervisor,
		HTTPAPI:    api,
		execPool:   pool,
	}, nil
}

// seedDefaultConfig writes DefaultStrategyConfig on a fresh database
// (GetConfig returning a StoreError with no prior row) so the very
// first run has a valid Config to serve from /api/config/.
func seedDefaultConfig(st core.IStore, logger core.ILogger) error {
	ctx := context.Background()
	if _, err := st.GetConfig(ctx); err == nil {
		return nil
	}
	logger.Info("seeding default strategy config")
	return st.PutConfig(ctx, config.DefaultStrategyConfig())
}

// buildEngine constructs a fresh Engine wired to marketID's configured
// exchange adapter (coinbase or mock, per AppConfig.ExchangeType).
func buildEngine(appCfg *config.AppConfig, st core.IStore, bus core.IEventBus, marketID string, logger core.ILogger) (*engine.Engine, error) {
	exchange, err := buildExchangeAdapter(appCfg, logger)
	if err != nil {
		return nil, err
	}

	planner := grid.NewPlanner()
	lots := lot.NewManager(st, exchange, planner, bus, logger)
	governor := risk.NewGovernor()
	reconciler := reconcile.NewReconciler(st, exchange, lots, governor, logger, 10)
	breaker := risk.NewTransientFailureBreaker(10, 60*time.Second)

	return engine.New(engine.Deps{
		Store:      st,
		Exchange:   exchange,
		Planner:    planner,
		Lots:       lots,
		Reconciler: reconciler,
		Risk:       governor,
		Bus:        bus,
		Logger:     logger,
		Breaker:    breaker,
	}), nil
}

func buildExchangeAdapter(appCfg *config.AppConfig, logger core.ILogger) (core.IExchangeAdapter, error) {
	switch appCfg.ExchangeType {
	case config.ExchangeCoinbase:
		return coinbase.New(coinbase.Options{
			Signer: nil, // concrete HMAC/JWT signing is wired by the deployment, not this repo
		}, logger), nil
	case config.ExchangeMock:
		return mockadapter.New(mockadapter.Config{}, logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange type %q", appCfg.ExchangeType)
	}
}

// Run starts every Runner under one errgroup and blocks until a
// termination signal arrives or a Runner returns a fatal error.
func (a *App) Run(ctx context.Context, runners ...Runner) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		runner := r
		g.Go(func() error { return runner.Run(gctx) })
	}

	a.Logger.Info("gridbot started")
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("gridbot shut down gracefully")
	return nil
}

// Shutdown releases process-wide resources (store handle, worker pool,
// telemetry exporters). Call after Run returns.
func (a *App) Shutdown(ctx context.Context) {
	if eng, _ := a.Supervisor.Active(); eng != nil {
		_ = eng.Stop(ctx)
	}
	if a.execPool != nil {
		a.execPool.Stop()
	}
	if a.Telemetry != nil {
		_ = a.Telemetry.Shutdown(ctx)
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
