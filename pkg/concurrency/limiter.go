package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by Acquire while the circuit breaker rejects work.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Metrics is a point-in-time copy of limiter counters.
type Metrics struct {
	Acquired       int64
	Released       int64
	PeakConcurrent int64
	TotalWait      time.Duration
}

// AverageWait returns the mean time spent waiting for a slot.
func (m Metrics) AverageWait() time.Duration {
	if m.Acquired == 0 {
		return 0
	}
	return m.TotalWait / time.Duration(m.Acquired)
}

// Limiter bounds the number of module executions running at once. It may be
// paired with a CircuitBreaker that rejects new work after repeated failures.
type Limiter struct {
	sem     chan struct{}
	breaker *CircuitBreaker

	active   atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	peak     atomic.Int64
	waitNs   atomic.Int64
}

// NewLimiter creates a limiter allowing maxConcurrent holders. A nil breaker
// disables circuit breaking.
func NewLimiter(maxConcurrent int, breaker *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:     make(chan struct{}, maxConcurrent),
		breaker: breaker,
	}
}

// NewLimiterFromConfig builds a limiter and breaker from cfg.
func NewLimiterFromConfig(cfg *Config) *Limiter {
	var breaker *CircuitBreaker
	if cfg.BreakerThreshold > 0 {
		breaker = NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerReset)
	}
	return NewLimiter(cfg.MaxConcurrent, breaker)
}

// Capacity returns the maximum number of concurrent holders.
func (l *Limiter) Capacity() int { return cap(l.sem) }

// Acquire blocks until a slot is free, ctx is done, or the breaker is open.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.breaker != nil && l.breaker.IsOpen() {
		return ErrCircuitOpen
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		l.waitNs.Add(int64(time.Since(start)))
		l.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot obtained with Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.released.Add(1)
	default:
	}
}

// Record reports the outcome of work done while holding a slot.
func (l *Limiter) Record(err error) {
	if l.breaker == nil {
		return
	}
	if err != nil {
		l.breaker.RecordFailure()
		return
	}
	l.breaker.RecordSuccess()
}

// Do runs fn while holding a slot and records its outcome.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn()
	l.Record(err)
	return err
}

// Active returns the number of current holders.
func (l *Limiter) Active() int64 { return l.active.Load() }

// Metrics returns a copy of the limiter counters.
func (l *Limiter) Metrics() Metrics {
	return Metrics{
		Acquired:       l.acquired.Load(),
		Released:       l.released.Load(),
		PeakConcurrent: l.peak.Load(),
		TotalWait:      time.Duration(l.waitNs.Load()),
	}
}

// Breaker returns the attached circuit breaker, or nil.
func (l *Limiter) Breaker() *CircuitBreaker { return l.breaker }

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
