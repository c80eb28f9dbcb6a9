package task

import (
	"context"
	"sync"

	"github.com/wehubfusion/Talos/pkg/concurrency"
	"go.uber.org/zap"
)

// Spawner runs every job on its own goroutine, optionally gated by a limiter.
// Submit never blocks.
type Spawner struct {
	limiter  *concurrency.Limiter
	logger   *zap.Logger
	wg       sync.WaitGroup
	counters counters
}

var _ Substrate = (*Spawner)(nil)

// NewSpawner creates a goroutine-per-job substrate. limiter may be nil.
func NewSpawner(limiter *concurrency.Limiter, logger *zap.Logger) *Spawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Spawner{limiter: limiter, logger: logger}
}

// Submit starts job on a new goroutine.
func (s *Spawner) Submit(ctx context.Context, job Job) *Future {
	f := NewFuture()
	s.counters.submitted.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		execute(ctx, job, f, s.limiter, &s.counters, s.logger)
	}()
	return f
}

// Wait blocks until every submitted job has finished.
func (s *Spawner) Wait() { s.wg.Wait() }

// Stats returns the current counters.
func (s *Spawner) Stats() Stats { return s.counters.snapshot() }
