// Package base provides shared scaffolding for concrete IExchangeAdapter
// implementations: a rate-limited, timed-out resty client and the decimal/
// timestamp parsing helpers every adapter needs.
package base

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/httpclient"
)

// Adapter holds the scaffolding every concrete exchange adapter embeds:
// a configured resty client, a request-rate limiter, and a logger scoped
// to the exchange name.
type Adapter struct {
	Name    string
	HTTP    *resty.Client
	Limiter *rate.Limiter
	Logger  core.ILogger
}

// NewAdapter builds the shared scaffolding. requestsPerSecond/burst size
// the outbound rate limiter (Coinbase Advanced Trade's public tier is
// ~10 req/s; callers pass the configured limit).
func NewAdapter(name, baseURL string, timeout time.Duration, requestsPerSecond float64, burst int, logger core.ILogger) *Adapter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0). // transport-level retry/circuit-breaking is pkg/httpclient's job, not resty's own
		SetTransport(httpclient.NewTransport(nil)).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "gridbot/1.0")

	return &Adapter{
		Name:    name,
		HTTP:    client,
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		Logger:  logger.With("exchange", name),
	}
}

// Wait blocks until the rate limiter admits one more request or ctx is
// canceled.
func (a *Adapter) Wait(ctx context.Context) error {
	return a.Limiter.Wait(ctx)
}

// ParseDecimal safely parses an exchange-returned numeric string, logging
// and returning zero on failure rather than propagating a parse panic
// into the tick loop.
func (a *Adapter) ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		a.Logger.Warn("failed to parse decimal from exchange payload", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseUnixMillis converts an exchange millisecond timestamp to time.Time,
// zero-value safe.
func ParseUnixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// RoundToIncrement rounds value down to the nearest multiple of increment
// (exchange base/quote increments, §6.1 ProductInfo), never rounding up
// past what the exchange will accept.
func RoundToIncrement(value, increment decimal.Decimal) decimal.Decimal {
	if increment.IsZero() {
		return value
	}
	steps := value.Div(increment).Floor()
	return steps.Mul(increment)
}
