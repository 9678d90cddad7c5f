package engine

import (
	"context"
	"fmt"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

// Supervisor owns the single active Engine instance and enforces the
// Highlander invariant (I1): at most one market is RUNNING at a time.
// Switching markets is a transactional handoff through
// IStore.SetActiveMarket, followed by canceling the outgoing market's
// resting orders before the new Engine accepts ticks.
type Supervisor struct {
	store  core.IStore
	logger core.ILogger

	newEngine func(marketID string) (*Engine, error)

	active      *Engine
	activeID    string
	cancelDrive context.CancelFunc
}

// NewSupervisor constructs a Supervisor. newEngine builds a fresh Engine
// wired to the given market's exchange adapter (coinbase or mock,
// depending on the market's configured exchange type).
func NewSupervisor(store core.IStore, logger core.ILogger, newEngine func(marketID string) (*Engine, error)) *Supervisor {
	return &Supervisor{
		store:     store,
		logger:    logger.With("component", "supervisor"),
		newEngine: newEngine,
	}
}

// SwitchTo performs the Highlander handoff to targetID: it atomically
// disables the previous market and enables target in the Store, stops the
// previous Engine, cancels every order the Store still has open for the
// previous market, and starts a new Engine for target. The cancels go
// through the previous Engine's exchange adapter; when this Supervisor
// has no Engine running (e.g. the first switch after a restart), no
// orders are canceled and the failure is logged.
func (s *Supervisor) SwitchTo(ctx context.Context, targetID string, cfg core.Config) error {
	previousID, hadPrevious, err := s.store.SetActiveMarket(ctx, targetID)
	if err != nil {
		return fmt.Errorf("set active market: %w", err)
	}

	// The previous Engine's drive goroutine and tick loop must be torn
	// down before a new one is constructed even when targetID re-selects
	// the already-active market (e.g. a duplicate start request):
	// otherwise the old goroutine keeps streaming and reconciling
	// alongside the new one, both placing orders against the same Store
	// rows and exchange account.
	if s.cancelDrive != nil {
		s.cancelDrive()
		s.cancelDrive = nil
	}
	if s.active != nil {
		if err := s.active.Stop(ctx); err != nil {
			s.logger.Warn("failed to stop previous engine cleanly", "market", previousID, "error", err)
		}
	}
	if hadPrevious && previousID != targetID {
		if err := s.cancelAllOpenOrders(ctx, previousID); err != nil {
			s.logger.Error("failed to cancel previous market's open orders during switch", "market", previousID, "error", err)
		}
	}

	eng, err := s.newEngine(targetID)
	if err != nil {
		return fmt.Errorf("construct engine for %s: %w", targetID, err)
	}
	if err := eng.Start(ctx, targetID, cfg); err != nil {
		return fmt.Errorf("start engine for %s: %w", targetID, err)
	}

	driveCtx, cancel := context.WithCancel(context.Background())
	s.cancelDrive = cancel
	go func() {
		if err := eng.Run(driveCtx); err != nil && driveCtx.Err() == nil {
			s.logger.Error("engine stream driver exited", "market", targetID, "error", err)
		}
	}()

	s.active = eng
	s.activeID = targetID
	s.logger.Info("active market switched", "from", previousID, "to", targetID)
	return nil
}

// cancelAllOpenOrders cancels every order the Store still has open for
// marketID; used during a Highlander switch.
// Best-effort: it logs and continues past a single order's cancel
// failure rather than aborting the whole sweep, since the next startup
// reconciliation (§4.6) will reconcile whatever is left resting.
func (s *Supervisor) cancelAllOpenOrders(ctx context.Context, marketID string) error {
	if s.active == nil {
		return fmt.Errorf("no running engine to cancel %s orders through", marketID)
	}
	orders, err := s.store.ListOpenOrders(ctx, marketID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, o := range orders {
		if err := s.active.exchange.CancelOrder(ctx, o.ID); err != nil {
			s.logger.Warn("cancel order failed during market switch", "order_id", o.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		o.Status = core.OrderCanceled
		if err := s.store.UpsertOrder(ctx, o); err != nil {
			s.logger.Warn("failed to persist canceled order status", "order_id", o.ID, "error", err)
		}
	}
	return firstErr
}

// Active returns the currently active Engine and market id, or nil/""
// if none is running.
func (s *Supervisor) Active() (*Engine, string) {
	return s.active, s.activeID
}

// StopActive stops the currently active Engine, if any (a full shutdown
// or a user-initiated "stop trading" request with no successor market).
func (s *Supervisor) StopActive(ctx context.Context) error {
	if s.active == nil {
		return nil
	}
	if s.cancelDrive != nil {
		s.cancelDrive()
		s.cancelDrive = nil
	}
	return s.active.Stop(ctx)
}
