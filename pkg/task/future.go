// Package task is the execution substrate: it accepts units of work and hands
// back awaitable handles.
package task

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/wehubfusion/Talos/pkg/module"
)

var (
	// ErrFutureCanceled is the result of a Future canceled before completion.
	ErrFutureCanceled = errors.New("future canceled")

	// ErrPoolClosed is returned for work submitted to a closed pool.
	ErrPoolClosed = errors.New("task pool is closed")

	// ErrPoolFull is returned for work submitted while the pool queue is full.
	ErrPoolFull = errors.New("task pool queue is full")

	// ErrWorkPanicked wraps a panic raised by a unit of work.
	ErrWorkPanicked = errors.New("task panicked")
)

// Signal is implemented by errors that end a job on purpose, such as a
// cancellation requested by the job itself. They resolve the future like any
// other error but are neither counted as failures nor recorded by a circuit
// breaker.
type Signal interface {
	error
	Signal()
}

// isFailure reports whether err counts against the substrate. A Signal found
// by single-error unwrapping is not a failure; joined errors are.
func isFailure(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if _, ok := e.(Signal); ok {
			return false
		}
	}
	return err != nil
}

// Job is a unit of work producing a module.
type Job func(ctx context.Context) (module.Module, error)

// Substrate runs jobs asynchronously.
type Substrate interface {
	Submit(ctx context.Context, job Job) *Future
}

// Future is the handle of a submitted job. It resolves exactly once.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once

	module module.Module
	err    error
}

// NewFuture creates an unresolved future.
func NewFuture() *Future {
	return &Future{id: uuid.NewString(), done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved(m module.Module, err error) *Future {
	f := NewFuture()
	f.Resolve(m, err)
	return f
}

// Resolve completes the future. It reports false if the future was already
// resolved, in which case m and err are dropped.
func (f *Future) Resolve(m module.Module, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.module, f.err = m, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// ID uniquely identifies the execution behind the future.
func (f *Future) ID() string { return f.id }

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports whether the future has resolved.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx is done. A failed execution
// may return both the module, in whatever state it reached, and an error.
func (f *Future) Wait(ctx context.Context) (module.Module, error) {
	select {
	case <-f.done:
		return f.module, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel resolves a pending future with ErrFutureCanceled. Work that has
// already started keeps running; only the handle is affected. It reports
// whether this call canceled the future.
func (f *Future) Cancel() bool {
	return f.Resolve(nil, ErrFutureCanceled)
}

// IsCanceled reports whether the future was canceled.
func (f *Future) IsCanceled() bool {
	return f.IsDone() && errors.Is(f.err, ErrFutureCanceled)
}

type executionIDKey struct{}

// WithExecutionID attaches an execution id to ctx. Substrates attach the id of
// the future to the context handed to each job.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey{}, id)
}

// ExecutionID returns the execution id attached to ctx, if any.
func ExecutionID(ctx context.Context) string {
	id, _ := ctx.Value(executionIDKey{}).(string)
	return id
}
