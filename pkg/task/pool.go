package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wehubfusion/Talos/pkg/concurrency"
	"github.com/wehubfusion/Talos/pkg/module"
	"go.uber.org/zap"
)

// Stats reports pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	// Signaled counts jobs that ended with a Signal error.
	Signaled int64
	// Rejected counts submissions refused because the queue was full.
	Rejected int64
	Pending  int
}

type poolJob struct {
	ctx    context.Context
	job    Job
	future *Future
}

// Pool runs jobs on a fixed set of worker goroutines fed by a bounded queue.
type Pool struct {
	config  PoolConfig
	limiter *concurrency.Limiter
	logger  *zap.Logger

	jobs      chan poolJob
	quit      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup

	counters counters
}

var _ Substrate = (*Pool)(nil)

// NewPool creates a pool. limiter may be nil.
func NewPool(config PoolConfig, limiter *concurrency.Limiter, logger *zap.Logger) *Pool {
	config.Validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		config:  config,
		limiter: limiter,
		logger:  logger,
		jobs:    make(chan poolJob, config.QueueSize),
		quit:    make(chan struct{}),
	}
}

// Start launches the workers. Cancelling ctx closes the pool the same way
// Close does.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Debug("Starting task pool",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.quit:
		}
	}()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case j := <-p.jobs:
			p.run(j)
		case <-p.quit:
			// Finish what is already queued before leaving.
			for {
				select {
				case j := <-p.jobs:
					p.run(j)
				default:
					p.logger.Debug("Task worker stopped", zap.Int("worker_id", id))
					return
				}
			}
		}
	}
}

func (p *Pool) run(j poolJob) {
	var limiter *concurrency.Limiter
	if p.config.UseLimiter {
		limiter = p.limiter
	}
	execute(j.ctx, j.job, j.future, limiter, &p.counters, p.logger)
}

// Submit queues job and returns its future without blocking. A closed pool,
// a full queue or a done ctx yields an already failed future.
func (p *Pool) Submit(ctx context.Context, job Job) *Future {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return Resolved(nil, ErrPoolClosed)
	}
	if err := ctx.Err(); err != nil {
		return Resolved(nil, err)
	}

	f := NewFuture()
	select {
	case p.jobs <- poolJob{ctx: ctx, job: job, future: f}:
		p.counters.submitted.Add(1)
	default:
		p.counters.rejected.Add(1)
		p.logger.Warn("Task queue full, rejecting job",
			zap.String("execution_id", f.ID()),
			zap.Int("queue_size", p.config.QueueSize))
		f.Resolve(nil, ErrPoolFull)
	}
	return f
}

// Close stops accepting work, lets workers finish queued jobs and waits for
// them. It is safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)

		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.wg.Wait()

		// Jobs that slipped in after the workers left.
		for {
			select {
			case j := <-p.jobs:
				j.future.Resolve(nil, ErrPoolClosed)
			default:
				p.logger.Debug("Task pool closed")
				return
			}
		}
	})
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	s := p.counters.snapshot()
	s.Pending = len(p.jobs)
	return s
}

// Config returns the pool configuration.
func (p *Pool) Config() PoolConfig { return p.config }

type counters struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	signaled  atomic.Int64
	rejected  atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Submitted: c.submitted.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Signaled:  c.signaled.Load(),
		Rejected:  c.rejected.Load(),
	}
}

// execute runs one job and resolves its future. Jobs whose future was
// canceled, or whose context ended, before they started are skipped.
func execute(ctx context.Context, job Job, f *Future, limiter *concurrency.Limiter, c *counters, logger *zap.Logger) {
	if f.IsDone() {
		return
	}
	if err := ctx.Err(); err != nil {
		f.Resolve(nil, err)
		c.failed.Add(1)
		return
	}

	if limiter != nil {
		if err := limiter.Acquire(ctx); err != nil {
			f.Resolve(nil, err)
			c.failed.Add(1)
			return
		}
		defer limiter.Release()
	}

	m, err := runJob(WithExecutionID(ctx, f.ID()), job)
	switch {
	case err == nil:
		c.completed.Add(1)
	case isFailure(err):
		c.failed.Add(1)
		logger.Debug("Task finished with error", zap.String("execution_id", f.ID()), zap.Error(err))
	default:
		c.signaled.Add(1)
		logger.Debug("Task stopped by signal", zap.String("execution_id", f.ID()), zap.Error(err))
	}
	// Signals are not recorded by the breaker.
	if limiter != nil && (err == nil || isFailure(err)) {
		limiter.Record(err)
	}
	f.Resolve(m, err)
}

func runJob(ctx context.Context, job Job) (m module.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("%w: %v", ErrWorkPanicked, r)
		}
	}()
	return job(ctx)
}
