package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestDo_ReturnsNilOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(), AlwaysTransient, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentErrorReturnsImmediatelyWithoutRetry(t *testing.T) {
	calls := 0
	permanent := errors.New("bad request")
	isTransient := func(error) bool { return false }

	err := Do(context.Background(), fastPolicy(), isTransient, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "a non-transient error must not be retried")
}

func TestDo_RetriesTransientErrorUntilSuccess(t *testing.T) {
	calls := 0
	transient := errors.New("rate limited")
	err := Do(context.Background(), fastPolicy(), AlwaysTransient, func() error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	transient := errors.New("still failing")
	err := Do(context.Background(), fastPolicy(), AlwaysTransient, func() error {
		calls++
		return transient
	})
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 5, calls, "must stop after exactly MaxAttempts tries")
}

func TestDo_StopsEarlyWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	transient := errors.New("rate limited")

	err := Do(ctx, fastPolicy(), AlwaysTransient, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return transient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "a canceled context must stop retrying before the next attempt sleeps")
}

func TestWithJitter_StaysWithinTenPercentBand(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := withJitter(d)
		assert.True(t, got >= 90*time.Millisecond && got <= 110*time.Millisecond, "jitter out of band: %s", got)
	}
}

func TestMinDuration(t *testing.T) {
	assert.Equal(t, time.Second, minDuration(time.Second, 2*time.Second))
	assert.Equal(t, time.Second, minDuration(2*time.Second, time.Second))
}
