// Package service is the module service façade. It owns the registry, binds
// caller arguments onto fresh module instances and dispatches them through
// the execution pipeline on a task substrate.
package service

import (
	"context"
	"errors"
	"reflect"

	"github.com/wehubfusion/Talos/pkg/convert"
	"github.com/wehubfusion/Talos/pkg/event"
	"github.com/wehubfusion/Talos/pkg/index"
	"github.com/wehubfusion/Talos/pkg/module"
	"github.com/wehubfusion/Talos/pkg/process"
	"github.com/wehubfusion/Talos/pkg/runner"
	"github.com/wehubfusion/Talos/pkg/task"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service runs registered modules.
type Service struct {
	index     *index.Index
	converter convert.Converter
	substrate task.Substrate
	publisher event.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	reporter  runner.Reporter
}

// Option configures a Service.
type Option func(*Service)

// WithIndex sets the registry. By default the service creates its own, wired
// to the configured publisher and logger.
func WithIndex(ix *index.Index) Option {
	return func(s *Service) { s.index = ix }
}

// WithConverter sets the type coercion collaborator.
func WithConverter(c convert.Converter) Option {
	return func(s *Service) { s.converter = c }
}

// WithSubstrate sets where pipelines are executed. The default is a
// goroutine-per-run Spawner.
func WithSubstrate(sub task.Substrate) Option {
	return func(s *Service) { s.substrate = sub }
}

// WithPublisher sets the collaborator notified of registry changes when the
// service creates its own registry.
func WithPublisher(p event.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithReporter(r runner.Reporter) Option {
	return func(s *Service) { s.reporter = r }
}

// New creates a Service.
func New(opts ...Option) *Service {
	s := &Service{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.converter == nil {
		s.converter = convert.Default()
	}
	if s.publisher == nil {
		s.publisher = event.Discard{}
	}
	if s.index == nil {
		s.index = index.New(index.WithPublisher(s.publisher), index.WithLogger(s.logger))
	}
	if s.substrate == nil {
		s.substrate = task.NewSpawner(nil, s.logger)
	}
	return s
}

// Index returns the registry owned by the service.
func (s *Service) Index() *index.Index { return s.index }

func (s *Service) AddModule(ctx context.Context, info *module.Info) { s.index.Add(ctx, info) }

func (s *Service) AddModules(ctx context.Context, infos []*module.Info) { s.index.AddAll(ctx, infos) }

func (s *Service) RemoveModule(ctx context.Context, info *module.Info) { s.index.Remove(ctx, info) }

func (s *Service) RemoveModules(ctx context.Context, infos []*module.Info) {
	s.index.RemoveAll(ctx, infos)
}

// Modules lists the registered module kinds in registration order.
func (s *Service) Modules() []*module.Info { return s.index.All() }

// ModuleForAccelerator returns the first registered module whose menu leaf
// carries acc.
func (s *Service) ModuleForAccelerator(acc module.Accelerator) (*module.Info, bool) {
	return s.index.ByAccelerator(acc)
}

// Lookup returns the first registered module named name.
func (s *Service) Lookup(name string) (*module.Info, bool) { return s.index.Lookup(name) }

// Run instantiates info, binds args and submits the pipeline. It always
// returns a future: when the module cannot be created the future is already
// resolved with a *module.CreateError.
func (s *Service) Run(ctx context.Context, info *module.Info, pre []process.Preprocessor, post []process.Postprocessor, args Args) *task.Future {
	if info == nil {
		err := &module.CreateError{Cause: errors.New("module info is nil")}
		s.logger.Error("Cannot create module", zap.Error(err))
		return task.Resolved(nil, err)
	}
	m, err := info.CreateModule()
	if err != nil {
		s.logger.Error("Cannot create module", zap.String("module", info.Name()), zap.Error(err))
		return task.Resolved(nil, err)
	}
	return s.RunModule(ctx, m, pre, post, args)
}

// RunModule binds args onto an existing instance and submits the pipeline.
func (s *Service) RunModule(ctx context.Context, m module.Module, pre []process.Preprocessor, post []process.Postprocessor, args Args) *task.Future {
	if m == nil {
		return task.Resolved(nil, &module.CreateError{Cause: errors.New("module is nil")})
	}
	Bind(m, args, s.converter, s.logger)

	r, err := runner.New(m, pre, post,
		runner.WithLogger(s.logger),
		runner.WithTracer(s.tracer),
		runner.WithReporter(s.reporter),
	)
	if err != nil {
		return task.Resolved(m, err)
	}
	return s.substrate.Submit(ctx, r.Job())
}

// Execute runs info with positional values and no processors.
func (s *Service) Execute(ctx context.Context, info *module.Info, values ...any) *task.Future {
	return s.Run(ctx, info, nil, nil, Positional(values))
}

// ExecuteModule runs m with positional values and no processors.
func (s *Service) ExecuteModule(ctx context.Context, m module.Module, values ...any) *task.Future {
	return s.RunModule(ctx, m, nil, nil, Positional(values))
}

// WaitFor blocks until f resolves or ctx is done and returns the finished
// module. A run canceled by a preprocessor returns its unexecuted module. Every
// other failure is logged and yields nil; use Future.Wait to inspect it.
func (s *Service) WaitFor(ctx context.Context, f *task.Future) module.Module {
	if f == nil {
		return nil
	}
	m, err := f.Wait(ctx)
	switch {
	case err == nil:
		return m
	case process.IsCanceled(err):
		s.logger.Info("Module execution canceled",
			zap.String("execution_id", f.ID()), zap.Error(err))
		return m
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("Interrupted while waiting for module",
			zap.String("execution_id", f.ID()), zap.Error(err))
		return nil
	default:
		s.logger.Error("Module execution failed",
			zap.String("execution_id", f.ID()), zap.Error(err))
		return nil
	}
}

// SingleInput returns the only unresolved input of m assignable to typ.
func (s *Service) SingleInput(m module.Module, typ reflect.Type) (*module.Item, bool) {
	return module.SingleInput(m, typ)
}

// SingleOutput returns the only unresolved output of m assignable to typ.
func (s *Service) SingleOutput(m module.Module, typ reflect.Type) (*module.Item, bool) {
	return module.SingleOutput(m, typ)
}
