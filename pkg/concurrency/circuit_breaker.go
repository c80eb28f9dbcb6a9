package concurrency

import (
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int32

const (
	// StateClosed lets work through.
	StateClosed BreakerState = iota
	// StateOpen rejects work until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets work through on probation.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// halfOpenSuccesses is the number of consecutive successes that close a
// half-open breaker.
const halfOpenSuccesses = 5

// CircuitBreaker stops accepting work after a run of consecutive failures and
// retries after a cool-down.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int64
	successes   int64
	threshold   int64
	reset       time.Duration
	lastFailure time.Time
	now         func() time.Time
}

// NewCircuitBreaker opens after threshold consecutive failures and moves to
// half-open once reset has elapsed since the last failure.
func NewCircuitBreaker(threshold int64, reset time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 10
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, reset: reset, now: time.Now}
}

// IsOpen reports whether work is currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) > cb.reset {
		cb.transition(StateHalfOpen)
	}
	return cb.state == StateOpen
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= halfOpenSuccesses {
			cb.transition(StateClosed)
		}
	}
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes = 0
	cb.lastFailure = cb.now()
	cb.failures++

	switch {
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen)
	case cb.state == StateClosed && cb.failures >= cb.threshold:
		cb.transition(StateOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.lastFailure = time.Time{}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	cb.successes = 0
	if to == StateClosed {
		cb.failures = 0
	}
}
