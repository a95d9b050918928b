package worker

import (
	"sync"
	"time"
)

// breakerState represents the circuit breaker state.
type breakerState int

const (
	breakerClosed   breakerState = iota // normal operation, calls pass through
	breakerOpen                         // calls rejected immediately
	breakerHalfOpen                     // one probe call allowed to test recovery
)

// breaker guards the upstream origin. After enough consecutive transport
// failures it opens and fetches fail fast instead of stacking timeouts on a
// dead origin. Thread-safe.
type breaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	successes    int
	threshold    int           // failures before opening
	resetTimeout time.Duration // how long to stay open before half-open
	halfOpenMax  int           // successes in half-open before closing
	lastFailure  time.Time
	now          func() time.Time // injectable clock for testing
}

func newBreaker(threshold int, resetTimeout time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &breaker{
		state:        breakerClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		halfOpenMax:  2,
		now:          time.Now,
	}
}

// allow reports whether a call may proceed.
func (cb *breaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransition()
	return cb.state != breakerOpen
}

func (cb *breaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case breakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.state = breakerClosed
			cb.failures = 0
			cb.successes = 0
		}
	case breakerClosed:
		cb.failures = 0
	}
}

func (cb *breaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = cb.now()
	switch cb.state {
	case breakerClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.state = breakerOpen
		}
	case breakerHalfOpen:
		// Any failure in half-open goes back to open.
		cb.state = breakerOpen
		cb.successes = 0
	}
}

// maybeTransition moves open → half-open once the reset timeout elapses.
// Caller holds cb.mu.
func (cb *breaker) maybeTransition() {
	if cb.state == breakerOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		cb.state = breakerHalfOpen
		cb.successes = 0
	}
}
