// Package script provides module kinds whose body is a JavaScript program.
//
// Every declared input is bound as a global variable before the program runs.
// After it completes, each declared output is read back from the global of the
// same name and converted to the output's declared type. Outputs left
// undefined or null stay unset.
package script

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/wehubfusion/Talos/pkg/convert"
	"github.com/wehubfusion/Talos/pkg/module"
	"go.uber.org/zap"
)

// Program is a compiled script body shared by every instance of a module kind.
type Program struct {
	name      string
	program   *goja.Program
	config    Config
	converter convert.Converter
	logger    *zap.Logger
}

// Option configures a Program.
type Option func(*Program)

func WithConfig(cfg Config) Option {
	return func(p *Program) { p.config = cfg }
}

func WithConverter(c convert.Converter) Option {
	return func(p *Program) {
		if c != nil {
			p.converter = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Program) {
		if l != nil {
			p.logger = l
		}
	}
}

// Compile parses source once. Syntax errors are reported here rather than on
// every run.
func Compile(name, source string, opts ...Option) (*Program, error) {
	p := &Program{
		name:      name,
		config:    DefaultConfig(),
		converter: convert.Default(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.config.ApplyDefaults()
	if err := p.config.Validate(); err != nil {
		return nil, err
	}

	prog, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, fromRuntime(name, err)
	}
	p.program = prog
	return p, nil
}

// Factory returns a module factory whose instances run the program.
func (p *Program) Factory() module.Factory {
	return func(info *module.Info) (module.Module, error) {
		return &Module{Base: module.NewBase(info), program: p}, nil
	}
}

// NewInfo compiles source and describes a module kind running it.
func NewInfo(name, source string, infoOpts []module.InfoOption, opts ...Option) (*module.Info, error) {
	p, err := Compile(name, source, opts...)
	if err != nil {
		return nil, err
	}
	return module.NewInfo(name, p.Factory(), infoOpts...)
}

// Module is one instance of a script module kind.
type Module struct {
	*module.Base
	program *Program
}

var _ module.Module = (*Module)(nil)

// Run executes the program on a fresh runtime.
func (m *Module) Run(ctx context.Context) error {
	p := m.program
	info := m.Info()
	logger := p.logger.With(zap.String("module", info.Name()))

	vm := goja.New()
	if err := sandbox(vm, p.config, logger); err != nil {
		return fmt.Errorf("failed to prepare runtime: %w", err)
	}

	for _, in := range info.Inputs() {
		if err := vm.Set(in.Name(), m.Input(in.Name())); err != nil {
			return fmt.Errorf("failed to set input %s: %w", in.Name(), err)
		}
	}
	for _, out := range info.Outputs() {
		if err := vm.Set(out.Name(), goja.Undefined()); err != nil {
			return fmt.Errorf("failed to declare output %s: %w", out.Name(), err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(fmt.Sprintf("execution exceeded %s", p.config.Timeout))
		case <-done:
		}
	}()

	start := time.Now()
	if _, err := vm.RunProgram(p.program); err != nil {
		logger.Debug("Script failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return fromRuntime(info.Name(), err)
	}

	for _, out := range info.Outputs() {
		v := vm.Get(out.Name())
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			continue
		}
		exported := v.Export()
		converted, ok := p.converter.Convert(exported, out.Type())
		if !ok {
			return newError(ErrorTypeOutput, info.Name(),
				"cannot convert output %s from %T to %s", out.Name(), exported, out.Type())
		}
		m.SetOutput(out.Name(), converted)
	}
	return nil
}
