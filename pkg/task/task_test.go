package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/module"
)

func testModule(t *testing.T) module.Module {
	t.Helper()
	info := module.MustInfo("t", module.FuncFactory(func(context.Context, module.Module) error { return nil }))
	m, err := info.CreateModule()
	require.NoError(t, err)
	return m
}

func TestFuture_ResolvesOnce(t *testing.T) {
	m := testModule(t)
	f := NewFuture()
	assert.False(t, f.IsDone())

	assert.True(t, f.Resolve(m, nil))
	assert.False(t, f.Resolve(nil, errors.New("late")))
	assert.False(t, f.Cancel())

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, m, got)
	assert.False(t, f.IsCanceled())
}

func TestFuture_WaitHonorsContext(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	m, err := f.Wait(ctx)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.IsDone())
}

func TestFuture_Cancel(t *testing.T) {
	f := NewFuture()
	assert.True(t, f.Cancel())
	assert.True(t, f.IsCanceled())

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrFutureCanceled)
}

func TestPool_RunsJobs(t *testing.T) {
	pool := NewPool(DefaultPoolConfig().WithWorkers(4), nil, nil)
	pool.Start(context.Background())
	defer pool.Close()

	m := testModule(t)
	futures := make([]*Future, 20)
	for i := range futures {
		futures[i] = pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
			return m, nil
		})
	}

	for _, f := range futures {
		got, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.Same(t, m, got)
	}

	stats := pool.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(20), stats.Completed)
	assert.Zero(t, stats.Failed)
}

func TestPool_JobSeesExecutionID(t *testing.T) {
	pool := NewPool(DefaultPoolConfig().WithWorkers(1), nil, nil)
	pool.Start(context.Background())
	defer pool.Close()

	var seen string
	f := pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
		seen = ExecutionID(ctx)
		return nil, nil
	})
	_, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.ID(), seen)
}

func TestPool_ErrorsAndPanicsResolveFuture(t *testing.T) {
	pool := NewPool(DefaultPoolConfig().WithWorkers(2), nil, nil)
	pool.Start(context.Background())
	defer pool.Close()

	m := testModule(t)
	boom := errors.New("boom")

	failed := pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
		return m, boom
	})
	got, err := failed.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Same(t, m, got)

	panicked := pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
		panic("kaboom")
	})
	_, err = panicked.Wait(context.Background())
	assert.ErrorIs(t, err, ErrWorkPanicked)
	assert.Contains(t, err.Error(), "kaboom")

	assert.Equal(t, int64(2), pool.Stats().Failed)
}

func TestPool_CloseFinishesQueuedWork(t *testing.T) {
	pool := NewPool(DefaultPoolConfig().WithWorkers(1).WithQueueSize(10), nil, nil)
	pool.Start(context.Background())

	var ran atomic.Int32
	futures := make([]*Future, 5)
	for i := range futures {
		futures[i] = pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil, nil
		})
	}
	pool.Close()

	assert.Equal(t, int32(5), ran.Load())
	for _, f := range futures {
		assert.True(t, f.IsDone())
	}

	rejected := pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
		return nil, nil
	})
	_, err := rejected.Wait(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_CanceledFutureSkipsJob(t *testing.T) {
	pool := NewPool(DefaultPoolConfig().WithWorkers(1), nil, nil)

	var ran atomic.Bool
	f := pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
		ran.Store(true)
		return nil, nil
	})
	require.True(t, f.Cancel())

	pool.Start(context.Background())
	pool.Close()

	assert.False(t, ran.Load())
	assert.True(t, f.IsCanceled())
}

func TestPool_StopsWhenStartContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(DefaultPoolConfig().WithWorkers(2), nil, nil)
	pool.Start(ctx)
	cancel()

	require.Eventually(t, func() bool {
		f := pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) { return nil, nil })
		_, err := f.Wait(context.Background())
		return errors.Is(err, ErrPoolClosed)
	}, time.Second, 5*time.Millisecond)
}

func TestPool_LimiterBoundsConcurrency(t *testing.T) {
	limiter := concurrency.NewLimiter(2, nil)
	pool := NewPool(DefaultPoolConfig().WithWorkers(8), limiter, nil)
	pool.Start(context.Background())
	defer pool.Close()

	var futures []*Future
	for i := 0; i < 16; i++ {
		futures = append(futures, pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
			time.Sleep(2 * time.Millisecond)
			return nil, nil
		}))
	}
	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, limiter.Metrics().PeakConcurrent, int64(2))
	assert.Equal(t, int64(16), limiter.Metrics().Acquired)
}

func TestSpawner_RunsConcurrently(t *testing.T) {
	s := NewSpawner(nil, nil)

	var mu sync.Mutex
	release := make(chan struct{})
	started := 0
	var futures []*Future
	for i := 0; i < 3; i++ {
		futures = append(futures, s.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
			mu.Lock()
			started++
			mu.Unlock()
			<-release
			return nil, nil
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return started == 3
	}, time.Second, time.Millisecond)
	close(release)
	s.Wait()

	for _, f := range futures {
		assert.True(t, f.IsDone())
	}
	assert.Equal(t, int64(3), s.Stats().Completed)
}

func TestSpawner_CanceledContext(t *testing.T) {
	s := NewSpawner(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := s.Submit(ctx, func(ctx context.Context) (module.Module, error) { return nil, nil })
	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

type stopSignal struct{}

func (stopSignal) Error() string { return "stopped on purpose" }
func (stopSignal) Signal()       {}

func TestSpawner_SignalsDoNotTripBreaker(t *testing.T) {
	breaker := concurrency.NewCircuitBreaker(2, time.Minute)
	s := NewSpawner(concurrency.NewLimiter(4, breaker), nil)

	for i := 0; i < 2; i++ {
		f := s.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
			return nil, fmt.Errorf("preprocess: %w", stopSignal{})
		})
		_, err := f.Wait(context.Background())
		assert.ErrorAs(t, err, new(stopSignal))
	}
	assert.Equal(t, concurrency.StateClosed, breaker.State())

	m := testModule(t)
	f := s.Submit(context.Background(), func(ctx context.Context) (module.Module, error) { return m, nil })
	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, m, got)

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Signaled)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestSpawner_JoinedSignalStillFails(t *testing.T) {
	breaker := concurrency.NewCircuitBreaker(1, time.Minute)
	s := NewSpawner(concurrency.NewLimiter(4, breaker), nil)

	f := s.Submit(context.Background(), func(ctx context.Context) (module.Module, error) {
		return nil, errors.Join(errors.New("body failed"), stopSignal{})
	})
	_, err := f.Wait(context.Background())
	require.Error(t, err)

	assert.Equal(t, concurrency.StateOpen, breaker.State())
	assert.Equal(t, int64(1), s.Stats().Failed)
}

func TestPool_SubmitRejectsWhenQueueFull(t *testing.T) {
	pool := NewPool(DefaultPoolConfig().WithWorkers(1).WithQueueSize(1), nil, nil)

	queued := pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) { return nil, nil })
	assert.False(t, queued.IsDone())

	done := make(chan *Future)
	go func() {
		done <- pool.Submit(context.Background(), func(ctx context.Context) (module.Module, error) { return nil, nil })
	}()

	var rejected *Future
	select {
	case rejected = <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
	_, err := rejected.Wait(context.Background())
	assert.ErrorIs(t, err, ErrPoolFull)
	assert.Equal(t, int64(1), pool.Stats().Rejected)

	pool.Start(context.Background())
	pool.Close()
	_, err = queued.Wait(context.Background())
	assert.NoError(t, err)
}
