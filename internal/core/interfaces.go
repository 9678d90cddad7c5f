package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IExchangeAdapter is the capability set the Engine is polymorphic over
// (§6.1 / §9 "dynamic dispatch over exchanges"). CoinbaseAdapter and
// MockAdapter are the two concrete implementations; the engine never
// imports either directly.
type IExchangeAdapter interface {
	GetProducts(ctx context.Context) ([]ProductInfo, error)
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
	GetTicker(ctx context.Context, marketID string) (decimal.Decimal, error)

	// PlaceLimitOrder is idempotent by clientTag: repeat calls with the
	// same tag return the same order id without creating a duplicate.
	PlaceLimitOrder(ctx context.Context, marketID string, side OrderSide, price, size decimal.Decimal, clientTag string, postOnly bool) (orderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	ListOpenOrders(ctx context.Context, marketID string) ([]Order, error)
	GetFills(ctx context.Context, since time.Time) ([]Fill, error)

	// StreamTicker and StreamFills deliver at-least-once; they block
	// until ctx is canceled or a connection-level error occurs.
	StreamTicker(ctx context.Context, marketID string, cb func(price decimal.Decimal, ts time.Time)) error
	StreamFills(ctx context.Context, cb func(Fill)) error
}

// IStore is the durable persistence capability (§2.1, §6.4). All reads
// return the authoritative snapshot between reconciliations.
type IStore interface {
	GetConfig(ctx context.Context) (Config, error)
	PutConfig(ctx context.Context, cfg Config) error

	GetMarket(ctx context.Context, id string) (Market, error)
	ListMarkets(ctx context.Context) ([]Market, error)
	GetActiveMarket(ctx context.Context) (Market, bool, error)
	UpsertMarket(ctx context.Context, m Market) error

	// SetActiveMarket performs the Highlander transactional switch:
	// disable the currently-enabled market (if any) and enable target in
	// one atomic unit, returning the previously-enabled market id (if
	// any) so the caller can cancel its orders.
	SetActiveMarket(ctx context.Context, targetID string) (previousID string, hadPrevious bool, err error)

	GetBotState(ctx context.Context, marketID string) (BotState, error)
	PutBotState(ctx context.Context, s BotState) error

	GetOrder(ctx context.Context, id string) (Order, bool, error)
	GetOrderByClientTag(ctx context.Context, clientTag string) (Order, bool, error)
	ListOpenOrders(ctx context.Context, marketID string) ([]Order, error)
	ListOrders(ctx context.Context, marketID string, status OrderStatus, limit, skip int) ([]Order, error)
	UpsertOrder(ctx context.Context, o Order) error

	InsertFill(ctx context.Context, f Fill) error
	ListFillsSince(ctx context.Context, marketID string, since time.Time) ([]Fill, error)
	ListFillsByOrderID(ctx context.Context, orderID string) ([]Fill, error)
	ListFills(ctx context.Context, limit, skip int) ([]Fill, error)

	GetLot(ctx context.Context, id string) (Lot, bool, error)
	GetLotByBuyOrderID(ctx context.Context, buyOrderID string) (Lot, bool, error)
	GetLotBySellOrderID(ctx context.Context, sellOrderID string) (Lot, bool, error)
	ListOpenLots(ctx context.Context, marketID string) ([]Lot, error)
	ListLots(ctx context.Context, limit, skip int) ([]Lot, error)
	UpsertLot(ctx context.Context, l Lot) error

	InsertAuditLog(ctx context.Context, e AuditLogEntry) error

	Close() error
}

// IRiskGovernor admits or denies candidate actions (§4.2). Pure function
// of its inputs; holds no mutable state of its own.
type IRiskGovernor interface {
	// AdmitOrder reports whether placing order would be allowed given the
	// current engine snapshot, and if not, a RiskDenied reason.
	AdmitOrder(snapshot RiskSnapshot, candidate GridLevel, side OrderSide) (admitted bool, reason string)

	// ShouldHold reports whether deployed capital has reached the cap
	// that forces the engine into HOLD.
	ShouldHold(snapshot RiskSnapshot) bool
}

// RiskSnapshot is the read-only state the RiskGovernor evaluates against.
type RiskSnapshot struct {
	Config             Config
	EngineMode         EngineMode
	OpenOrderCount     int
	ActiveMarketCount  int
	DeployedCapitalUSD decimal.Decimal
	CandidateNotional  decimal.Decimal
}

// IGridPlanner computes the desired staging-band BUY levels and sell
// prices (§4.3). Pure function: identical inputs yield identical,
// deterministically-ordered output.
type IGridPlanner interface {
	DesiredLevels(price, anchorHigh decimal.Decimal, cfg Config, availableCapitalUSD decimal.Decimal) ([]GridLevel, error)
	SellPrice(buyPrice decimal.Decimal, cfg Config, monthRealizedPnLUSD decimal.Decimal) decimal.Decimal
}

// ILotManager maps fills to lots (§4.4).
type ILotManager interface {
	OnBuyFill(ctx context.Context, f Fill, cfg Config) error
	OnSellFill(ctx context.Context, f Fill) error
	// RetryUnplacedSells resubmits SELLs for Lots stuck in OPEN with no
	// sell_order_id, honoring the backoff schedule per lot.
	RetryUnplacedSells(ctx context.Context, marketID string, cfg Config) error
	// MonthRealizedPnLUSD sums RealizedPnL across Lots closed in the UTC
	// month containing at, for SMART_REINVEST's sell-price and
	// conservative buy-sizing decisions.
	MonthRealizedPnLUSD(ctx context.Context, marketID string, at time.Time) (decimal.Decimal, error)
}

// IReconciler aligns Store and exchange state (§4.6).
type IReconciler interface {
	ReconcileStartup(ctx context.Context, marketID string) error
	ReconcileTick(ctx context.Context, marketID string, desired []GridLevel, cfg Config, snapshot RiskSnapshot) error
}

// BusEventType enumerates the WebSocket frame types of §6.2.
type BusEventType string

const (
	EventPriceUpdate  BusEventType = "PRICE_UPDATE"
	EventOrderFilled  BusEventType = "ORDER_FILLED"
	EventStateChange  BusEventType = "STATE_CHANGE"
	EventLogEntry     BusEventType = "LOG_ENTRY"
)

// BusEvent is one fan-out frame.
type BusEvent struct {
	Type BusEventType
	Data interface{}
}

// IEventBus fans out engine events to subscribers (§4.7).
type IEventBus interface {
	Publish(evt BusEvent)
	Subscribe() (ch <-chan BusEvent, unsubscribe func())
}

// ILogger is the structured-logging capability every package depends on
// through an interface, not a concrete *zap.Logger, so tests can inject a
// no-op or observed logger.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	With(fields ...interface{}) ILogger
}
