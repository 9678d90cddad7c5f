package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient_MatchesWrappedTransientExchangeError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &TransientExchangeError{Op: "place", Err: ErrRateLimitExceeded})
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
}

func TestIsPermanent_MatchesWrappedPermanentExchangeError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &PermanentExchangeError{Op: "place", Err: ErrOrderRejected})
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
}

func TestIsTransient_FalseForUnrelatedError(t *testing.T) {
	assert.False(t, IsTransient(errors.New("something else")))
	assert.False(t, IsPermanent(errors.New("something else")))
}

func TestTransientExchangeError_UnwrapsToSentinel(t *testing.T) {
	err := &TransientExchangeError{Op: "cancel", Err: ErrRateLimitExceeded}
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestStoreError_UnwrapsToUnderlyingCause(t *testing.T) {
	cause := errors.New("disk full")
	err := &StoreError{Op: "UpsertOrder", Err: cause}
	assert.ErrorIs(t, err, cause)
}

func TestConfigError_MessageIncludesFieldAndDetail(t *testing.T) {
	err := &ConfigError{Field: "max_open_orders", Detail: "must be in (0, 490]"}
	assert.Contains(t, err.Error(), "max_open_orders")
	assert.Contains(t, err.Error(), "must be in (0, 490]")
}

func TestRiskDenied_StringReturnsReason(t *testing.T) {
	d := RiskDenied{Reason: "max_open_orders reached"}
	assert.Equal(t, "max_open_orders reached", d.String())
}
