package risk

import (
	"sync"
	"time"
)

// TransientFailureBreaker counts consecutive TransientExchangeErrors and
// trips after maxConsecutiveFailures, signaling the Engine to degrade to
// HOLD per §7. It resets on any recorded success, and on the first
// Tripped call made more than cooldown after it tripped.
type TransientFailureBreaker struct {
	mu                   sync.Mutex
	maxConsecutiveFailures int
	cooldown             time.Duration
	consecutiveFailures  int
	trippedAt            time.Time
	open                 bool
}

// NewTransientFailureBreaker creates a breaker with the spec's default
// threshold (10 consecutive failures) unless overridden.
func NewTransientFailureBreaker(maxConsecutiveFailures int, cooldown time.Duration) *TransientFailureBreaker {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 10
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &TransientFailureBreaker{maxConsecutiveFailures: maxConsecutiveFailures, cooldown: cooldown}
}

// RecordFailure registers one TransientExchangeError.
func (b *TransientFailureBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.maxConsecutiveFailures && !b.open {
		b.open = true
		b.trippedAt = time.Now()
	}
}

// RecordSuccess clears the consecutive-failure count.
func (b *TransientFailureBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.open = false
}

// Tripped reports whether the breaker is currently open (forcing HOLD).
// An open breaker auto-closes after cooldown elapses.
func (b *TransientFailureBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false
	}
	if time.Since(b.trippedAt) > b.cooldown {
		b.open = false
		b.consecutiveFailures = 0
		return false
	}
	return true
}
