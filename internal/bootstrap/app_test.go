package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/config"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/engine"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/exchange/coinbase"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/exchange/mockadapter"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})       {}
func (noopLogger) Info(string, ...interface{})        {}
func (noopLogger) Warn(string, ...interface{})        {}
func (noopLogger) Error(string, ...interface{})       {}
func (l noopLogger) With(...interface{}) core.ILogger { return l }

type fakeStore struct {
	cfg       core.Config
	hasConfig bool
	putCalled bool
}

func (s *fakeStore) GetConfig(context.Context) (core.Config, error) {
	if !s.hasConfig {
		return core.Config{}, errors.New("no config row")
	}
	return s.cfg, nil
}
func (s *fakeStore) PutConfig(_ context.Context, c core.Config) error {
	s.cfg = c
	s.hasConfig = true
	s.putCalled = true
	return nil
}
func (s *fakeStore) GetMarket(context.Context, string) (core.Market, error) { return core.Market{}, nil }
func (s *fakeStore) ListMarkets(context.Context) ([]core.Market, error)     { return nil, nil }
func (s *fakeStore) GetActiveMarket(context.Context) (core.Market, bool, error) {
	return core.Market{}, false, nil
}
func (s *fakeStore) UpsertMarket(context.Context, core.Market) error { return nil }
func (s *fakeStore) SetActiveMarket(context.Context, string) (string, bool, error) {
	return "", false, nil
}
func (s *fakeStore) GetBotState(context.Context, string) (core.BotState, error) {
	return core.BotState{}, nil
}
func (s *fakeStore) PutBotState(context.Context, core.BotState) error { return nil }
func (s *fakeStore) GetOrder(context.Context, string) (core.Order, bool, error) {
	return core.Order{}, false, nil
}
func (s *fakeStore) GetOrderByClientTag(context.Context, string) (core.Order, bool, error) {
	return core.Order{}, false, nil
}
func (s *fakeStore) ListOpenOrders(context.Context, string) ([]core.Order, error) { return nil, nil }
func (s *fakeStore) ListOrders(context.Context, string, core.OrderStatus, int, int) ([]core.Order, error) {
	return nil, nil
}
func (s *fakeStore) UpsertOrder(context.Context, core.Order) error { return nil }
func (s *fakeStore) InsertFill(context.Context, core.Fill) error   { return nil }
func (s *fakeStore) ListFillsSince(context.Context, string, time.Time) ([]core.Fill, error) {
	return nil, nil
}
func (s *fakeStore) ListFillsByOrderID(context.Context, string) ([]core.Fill, error) { return nil, nil }
func (s *fakeStore) ListFills(context.Context, int, int) ([]core.Fill, error)        { return nil, nil }
func (s *fakeStore) GetLot(context.Context, string) (core.Lot, bool, error) {
	return core.Lot{}, false, nil
}
func (s *fakeStore) GetLotByBuyOrderID(context.Context, string) (core.Lot, bool, error) {
	return core.Lot{}, false, nil
}
func (s *fakeStore) GetLotBySellOrderID(context.Context, string) (core.Lot, bool, error) {
	return core.Lot{}, false, nil
}
func (s *fakeStore) ListOpenLots(context.Context, string) ([]core.Lot, error) { return nil, nil }
func (s *fakeStore) ListLots(context.Context, int, int) ([]core.Lot, error)  { return nil, nil }
func (s *fakeStore) UpsertLot(context.Context, core.Lot) error               { return nil }
func (s *fakeStore) InsertAuditLog(context.Context, core.AuditLogEntry) error { return nil }
func (s *fakeStore) Close() error                                            { return nil }

func TestSeedDefaultConfigSkipsWhenConfigExists(t *testing.T) {
	st := &fakeStore{hasConfig: true, cfg: core.Config{MaxOpenOrders: 7}}
	require.NoError(t, seedDefaultConfig(st, noopLogger{}))
	assert.False(t, st.putCalled)
}

func TestSeedDefaultConfigWritesDefaultWhenMissing(t *testing.T) {
	st := &fakeStore{}
	require.NoError(t, seedDefaultConfig(st, noopLogger{}))
	assert.True(t, st.putCalled)
}

func TestBuildExchangeAdapterSelectsCoinbase(t *testing.T) {
	appCfg := &config.AppConfig{ExchangeType: config.ExchangeCoinbase}
	adapter, err := buildExchangeAdapter(appCfg, noopLogger{})
	require.NoError(t, err)
	assert.IsType(t, &coinbase.Adapter{}, adapter)
}

func TestBuildExchangeAdapterSelectsMock(t *testing.T) {
	appCfg := &config.AppConfig{ExchangeType: config.ExchangeMock}
	adapter, err := buildExchangeAdapter(appCfg, noopLogger{})
	require.NoError(t, err)
	assert.IsType(t, &mockadapter.Adapter{}, adapter)
}

func TestBuildExchangeAdapterRejectsUnknownType(t *testing.T) {
	appCfg := &config.AppConfig{ExchangeType: "nonsense"}
	_, err := buildExchangeAdapter(appCfg, noopLogger{})
	assert.Error(t, err)
}

type fakeRunner struct {
	err       error
	blockTime time.Duration
}

func (r fakeRunner) Run(ctx context.Context) error {
	select {
	case <-time.After(r.blockTime):
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAppRunTreatsRunnerErrorAsGracefulShutdown(t *testing.T) {
	// errgroup cancels its derived context as soon as any runner returns
	// an error, so by the time Wait() unblocks the group's context is
	// already done; Run logs and swallows the error rather than
	// propagating it. Mirrors the teacher's own Run loop exactly.
	a := &App{Logger: noopLogger{}}
	boom := errors.New("runner exploded")
	err := a.Run(context.Background(), fakeRunner{err: boom})
	assert.NoError(t, err)
}

func TestAppRunReturnsNilOnCleanShutdown(t *testing.T) {
	a := &App{Logger: noopLogger{}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Run(ctx, fakeRunner{blockTime: time.Hour})
	assert.NoError(t, err)
}

func TestAppShutdownWithNoResourcesIsNoop(t *testing.T) {
	st := &fakeStore{}
	sup := engine.NewSupervisor(st, noopLogger{}, func(marketID string) (*engine.Engine, error) {
		return nil, errors.New("not used in this test")
	})
	a := &App{Logger: noopLogger{}, Supervisor: sup}
	assert.NotPanics(t, func() { a.Shutdown(context.Background()) })
}
