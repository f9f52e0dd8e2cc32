package detection

import (
	"sync"
	"time"
)

// BreakerState is a point-in-time snapshot of the circuit breaker,
// exposed through the health endpoint.
type BreakerState struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Open                bool      `json:"open"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker guards the upstream inference dependency. It opens
// after a run of consecutive failures shared across both endpoints and
// fails calls fast while open. There is no background timer: the probe
// after the cooldown happens lazily on the next Allow call, which
// optimistically closes the circuit and zeroes the failure count.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time

	consecutiveFailures int
	open                bool
	openedAt            time.Time
	lastFailure         time.Time
}

// NewCircuitBreaker builds a closed breaker. failureThreshold is the
// run of consecutive failures that opens it; cooldown is measured from
// the last recorded failure.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. While open and inside the
// cooldown window it returns false without any side effect; once the
// cooldown has elapsed it closes the circuit and lets the call through
// as the probe.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.now().Sub(b.lastFailure) < b.cooldown {
		return false
	}
	b.open = false
	b.openedAt = time.Time{}
	b.consecutiveFailures = 0
	return true
}

// RecordFailure counts one classified upstream failure and opens the
// circuit when the threshold is crossed.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailure = b.now()
	if !b.open && b.consecutiveFailures >= b.failureThreshold {
		b.open = true
		b.openedAt = b.lastFailure
	}
}

// RecordSuccess resets the consecutive-failure count. It does not
// touch the open flag; reopening is Allow's job.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
}

// State returns a snapshot for health reporting.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		ConsecutiveFailures: b.consecutiveFailures,
		Open:                b.open,
		OpenedAt:            b.openedAt,
	}
}
