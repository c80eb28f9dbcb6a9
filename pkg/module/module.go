package module

import (
	"context"
	"maps"
	"sync"
)

// Module is one executable instance of a module kind. It holds the current
// input and output values plus a resolved flag per parameter.
//
// A Module is owned by the execution path that created it and is not meant to
// be shared across concurrent executions.
type Module interface {
	Info() *Info

	Input(name string) any
	SetInput(name string, value any)
	Output(name string) any
	SetOutput(name string, value any)

	// IsResolved reports whether a value was authoritatively assigned to the
	// named parameter, either by the caller or by a preprocessor.
	IsResolved(name string) bool
	SetResolved(name string, resolved bool)

	// Run executes the module body.
	Run(ctx context.Context) error
}

// Base implements every Module method except Run. Concrete module kinds embed it.
type Base struct {
	info     *Info
	mu       sync.RWMutex
	inputs   map[string]any
	outputs  map[string]any
	resolved map[string]bool
}

// NewBase creates an empty value store for info.
func NewBase(info *Info) *Base {
	return &Base{
		info:     info,
		inputs:   make(map[string]any),
		outputs:  make(map[string]any),
		resolved: make(map[string]bool),
	}
}

func (b *Base) Info() *Info { return b.info }

// Input returns the current value of an input. Inputs that were never set
// report their declared default.
func (b *Base) Input(name string) any {
	b.mu.RLock()
	v, ok := b.inputs[name]
	b.mu.RUnlock()
	if ok {
		return v
	}
	if it, found := b.info.Input(name); found {
		if def, has := it.Default(); has {
			return def
		}
	}
	return nil
}

func (b *Base) SetInput(name string, value any) {
	b.mu.Lock()
	b.inputs[name] = value
	b.mu.Unlock()
}

func (b *Base) Output(name string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.outputs[name]
}

func (b *Base) SetOutput(name string, value any) {
	b.mu.Lock()
	b.outputs[name] = value
	b.mu.Unlock()
}

func (b *Base) IsResolved(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resolved[name]
}

func (b *Base) SetResolved(name string, resolved bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if resolved {
		b.resolved[name] = true
		return
	}
	delete(b.resolved, name)
}

// Inputs returns a snapshot of the explicitly set input values.
func (b *Base) Inputs() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.inputs)
}

// Outputs returns a snapshot of the output values.
func (b *Base) Outputs() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.outputs)
}

// RunFunc is the body of a function-backed module.
type RunFunc func(ctx context.Context, m Module) error

type funcModule struct {
	*Base
	run RunFunc
}

func (f *funcModule) Run(ctx context.Context) error { return f.run(ctx, f) }

// FuncFactory returns a Factory producing modules whose body is run.
func FuncFactory(run RunFunc) Factory {
	return func(info *Info) (Module, error) {
		return &funcModule{Base: NewBase(info), run: run}, nil
	}
}
