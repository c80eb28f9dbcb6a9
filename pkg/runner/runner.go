// Package runner executes one prepared module through its processing
// pipeline: every preprocessor in order, then the module body, then every
// postprocessor in order.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wehubfusion/Talos/pkg/module"
	"github.com/wehubfusion/Talos/pkg/process"
	"github.com/wehubfusion/Talos/pkg/task"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Reporter receives execution failures, typically for an error tracker.
type Reporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

type noopReporter struct{}

func (noopReporter) Report(context.Context, error, map[string]string) {}

// Runner is a single unit of work pairing a module with its processor chains.
type Runner struct {
	module   module.Module
	pre      []process.Preprocessor
	post     []process.Postprocessor
	logger   *zap.Logger
	tracer   trace.Tracer
	reporter Reporter
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer sets the tracer. The default is the global "talos/runner" tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithReporter sets the failure reporter.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// New creates a Runner. Nil chains behave as empty chains.
func New(m module.Module, pre []process.Preprocessor, post []process.Postprocessor, opts ...Option) (*Runner, error) {
	if m == nil {
		return nil, errors.New("module cannot be nil")
	}
	r := &Runner{
		module:   m,
		pre:      pre,
		post:     post,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("talos/runner"),
		reporter: noopReporter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Job adapts the runner to the task substrate.
func (r *Runner) Job() task.Job {
	return r.Run
}

// Run executes the pipeline and returns the module in its terminal state.
//
// A preprocessor cancellation returns an error matching process.ErrCanceled
// and skips both the body and the postprocessors. Any other preprocessor
// error stops the pipeline the same way but is reported as a failure. Body
// failures, panics included, do not stop the postprocessors; their errors are
// joined with any postprocessor errors.
func (r *Runner) Run(ctx context.Context) (module.Module, error) {
	name := r.module.Info().Name()
	execID := task.ExecutionID(ctx)
	logger := r.logger.With(zap.String("module", name), zap.String("execution_id", execID))

	ctx, span := r.tracer.Start(ctx, "runner.execute",
		trace.WithAttributes(
			attribute.String("module.name", name),
			attribute.String("execution.id", execID),
			attribute.Int("pipeline.preprocessors", len(r.pre)),
			attribute.Int("pipeline.postprocessors", len(r.post)),
		))
	defer span.End()

	start := time.Now()

	if err := r.preprocess(ctx, execID); err != nil {
		if process.IsCanceled(err) {
			span.SetAttributes(attribute.Bool("execution.canceled", true))
			span.SetStatus(codes.Ok, "canceled by preprocessor")
			logger.Info("Module execution canceled", zap.Error(err))
			return r.module, err
		}
		r.fail(ctx, span, logger, err)
		return r.module, err
	}

	runErr := r.runBody(ctx, execID)
	if runErr != nil {
		r.fail(ctx, span, logger, runErr)
	}

	postErr := r.postprocess(ctx, execID, runErr)
	if postErr != nil {
		r.fail(ctx, span, logger, postErr)
	}

	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int64("execution.duration_ms", elapsed.Milliseconds()))

	err := runErr
	if postErr != nil {
		err = errors.Join(runErr, postErr)
	}
	if err == nil {
		span.SetStatus(codes.Ok, "module executed")
		logger.Debug("Module executed", zap.Duration("duration", elapsed))
	}
	return r.module, err
}

func (r *Runner) preprocess(ctx context.Context, execID string) error {
	for i, p := range r.pre {
		if p == nil {
			continue
		}
		pctx, span := r.tracer.Start(ctx, "runner.preprocess",
			trace.WithAttributes(
				attribute.Int("processor.index", i),
				attribute.String("processor.type", fmt.Sprintf("%T", p)),
			))
		err := safely(func() error { return p.Preprocess(pctx, r.module) })
		if err != nil && !process.IsCanceled(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err != nil {
			if process.IsCanceled(err) {
				return err
			}
			return r.wrap(execID, PhasePreprocess, i, err)
		}
	}
	return nil
}

// runBody runs the module body. The body context keeps the values of ctx but
// not its cancellation: in-flight bodies are never interrupted.
func (r *Runner) runBody(ctx context.Context, execID string) error {
	bctx, span := r.tracer.Start(context.WithoutCancel(ctx), "module.run")
	defer span.End()

	err := safely(func() error { return r.module.Run(bctx) })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.wrap(execID, PhaseRun, -1, err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *Runner) postprocess(ctx context.Context, execID string, runErr error) error {
	var errs []error
	for i, p := range r.post {
		if p == nil {
			continue
		}
		pctx, span := r.tracer.Start(ctx, "runner.postprocess",
			trace.WithAttributes(
				attribute.Int("processor.index", i),
				attribute.String("processor.type", fmt.Sprintf("%T", p)),
			))
		if err := safely(func() error { return p.Postprocess(pctx, r.module, runErr) }); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			errs = append(errs, r.wrap(execID, PhasePostprocess, i, err))
		}
		span.End()
	}
	return errors.Join(errs...)
}

func (r *Runner) wrap(execID, phase string, step int, err error) error {
	return &ExecutionError{
		Module:      r.module.Info().Name(),
		ExecutionID: execID,
		Phase:       phase,
		Step:        step,
		Cause:       err,
	}
}

func (r *Runner) fail(ctx context.Context, span trace.Span, logger *zap.Logger, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error("Module execution failed", zap.Error(err))

	tags := map[string]string{"module": r.module.Info().Name()}
	if phase, ok := PhaseOf(err); ok {
		tags["phase"] = phase
	}
	if id := task.ExecutionID(ctx); id != "" {
		tags["execution_id"] = id
	}
	r.reporter.Report(ctx, err, tags)
}
