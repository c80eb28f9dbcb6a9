package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLoadConfigRespectsEnvironmentOverrides(t *testing.T) {
	t.Setenv("TALOS_MAX_CONCURRENT", "42")
	t.Setenv("TALOS_WORKERS", "7")
	t.Setenv("TALOS_QUEUE_SIZE", "16")
	t.Setenv("TALOS_BREAKER_THRESHOLD", "3")
	t.Setenv("TALOS_BREAKER_RESET", "2s")

	cfg := LoadConfig()

	if cfg.MaxConcurrent != 42 {
		t.Fatalf("expected MaxConcurrent 42, got %d", cfg.MaxConcurrent)
	}
	if cfg.Workers != 7 {
		t.Fatalf("expected Workers 7, got %d", cfg.Workers)
	}
	if cfg.QueueSize != 16 {
		t.Fatalf("expected QueueSize 16, got %d", cfg.QueueSize)
	}
	if cfg.BreakerThreshold != 3 || cfg.BreakerReset != 2*time.Second {
		t.Fatalf("unexpected breaker settings %d/%s", cfg.BreakerThreshold, cfg.BreakerReset)
	}
	if cfg.Source != ConfigSourceEnvVar {
		t.Fatalf("expected env var source, got %s", cfg.Source)
	}
}

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg := LoadConfig()
	if cfg.MaxConcurrent < 1 {
		t.Fatalf("expected positive MaxConcurrent, got %d", cfg.MaxConcurrent)
	}
	if cfg.Workers < 1 {
		t.Fatalf("expected positive Workers, got %d", cfg.Workers)
	}
	if cfg.QueueSize != 1024 {
		t.Fatalf("expected default QueueSize 1024, got %d", cfg.QueueSize)
	}
	if cfg.Source != ConfigSourceAutoDetect {
		t.Fatalf("expected auto-detect source, got %s", cfg.Source)
	}
}

func TestLimiterAcquireReleaseTracksMetrics(t *testing.T) {
	limiter := NewLimiter(2, nil)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if limiter.Active() != 1 {
		t.Fatalf("expected 1 active holder, got %d", limiter.Active())
	}
	limiter.Release()

	m := limiter.Metrics()
	if m.Acquired != 1 || m.Released != 1 {
		t.Fatalf("expected 1 acquired and 1 released, got %+v", m)
	}
	if m.PeakConcurrent != 1 {
		t.Fatalf("expected peak 1, got %d", m.PeakConcurrent)
	}
}

func TestLimiterAcquireHonorsContextCancellation(t *testing.T) {
	limiter := NewLimiter(1, nil)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	limiter := NewLimiter(3, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Do(context.Background(), func() error {
				time.Sleep(2 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak := limiter.Metrics().PeakConcurrent; peak > 3 {
		t.Fatalf("expected peak <= 3, got %d", peak)
	}
	if limiter.Active() != 0 {
		t.Fatalf("expected no active holders, got %d", limiter.Active())
	}
}

func TestLimiterOpensCircuitAfterFailures(t *testing.T) {
	breaker := NewCircuitBreaker(2, time.Hour)
	limiter := NewLimiter(4, breaker)
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := limiter.Do(ctx, func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("expected body error, got %v", err)
		}
	}

	if err := limiter.Acquire(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("expected breaker to open after threshold")
	}

	now = now.Add(2 * time.Second)
	if cb.IsOpen() {
		t.Fatal("expected breaker to allow a probe after reset timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}

	for i := 0; i < halfOpenSuccesses; i++ {
		cb.RecordSuccess()
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successes, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(1, time.Second)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	cb.IsOpen()
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset, got %s", cb.State())
	}
}
