package module

import (
	"fmt"
	"slices"
)

// Factory creates a fresh Module for info.
type Factory func(info *Info) (Module, error)

// Info is the immutable descriptor of a module kind. A single Info may be
// instantiated any number of times, concurrently; each instance is independent.
type Info struct {
	name        string
	label       string
	description string
	menuPath    MenuPath
	inputs      []*Item
	outputs     []*Item
	inputIdx    map[string]*Item
	outputIdx   map[string]*Item
	factory     Factory
}

// InfoOption customizes an Info at construction time.
type InfoOption func(*Info)

// WithLabel sets the display label.
func WithLabel(label string) InfoOption {
	return func(i *Info) { i.label = label }
}

// WithDescription sets the description.
func WithDescription(desc string) InfoOption {
	return func(i *Info) { i.description = desc }
}

// WithMenuPath places the module in a menu. The leaf may carry an accelerator.
func WithMenuPath(path MenuPath) InfoOption {
	return func(i *Info) { i.menuPath = slices.Clone(path) }
}

// WithInputs appends input items in declaration order.
func WithInputs(items ...*Item) InfoOption {
	return func(i *Info) { i.inputs = append(i.inputs, items...) }
}

// WithOutputs appends output items in declaration order.
func WithOutputs(items ...*Item) InfoOption {
	return func(i *Info) { i.outputs = append(i.outputs, items...) }
}

// NewInfo builds a module descriptor. Item names must be unique within the
// inputs and within the outputs, and item directions must match the list they
// are declared in.
func NewInfo(name string, factory Factory, opts ...InfoOption) (*Info, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: module name cannot be empty", ErrInvalidInfo)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: module %q has no factory", ErrInvalidInfo, name)
	}

	info := &Info{name: name, factory: factory}
	for _, opt := range opts {
		opt(info)
	}

	var err error
	if info.inputIdx, err = indexItems(name, info.inputs, Input); err != nil {
		return nil, err
	}
	if info.outputIdx, err = indexItems(name, info.outputs, Output); err != nil {
		return nil, err
	}
	return info, nil
}

// MustInfo is like NewInfo but panics on error. Intended for static
// registrations.
func MustInfo(name string, factory Factory, opts ...InfoOption) *Info {
	info, err := NewInfo(name, factory, opts...)
	if err != nil {
		panic(err)
	}
	return info
}

func indexItems(module string, items []*Item, dir Direction) (map[string]*Item, error) {
	idx := make(map[string]*Item, len(items))
	for _, it := range items {
		if it == nil {
			return nil, fmt.Errorf("%w: module %q declares a nil %s", ErrInvalidInfo, module, dir)
		}
		if it.direction != dir {
			return nil, fmt.Errorf("%w: item %q of module %q is not an %s", ErrInvalidInfo, it.name, module, dir)
		}
		if _, dup := idx[it.name]; dup {
			return nil, fmt.Errorf("%w: %s %q declared twice on module %q", ErrDuplicateItem, dir, it.name, module)
		}
		idx[it.name] = it
	}
	return idx, nil
}

// Name returns the module kind name. Names are not required to be unique
// across a registry.
func (i *Info) Name() string { return i.name }

// Label returns the label, falling back to the name.
func (i *Info) Label() string {
	if i.label == "" {
		return i.name
	}
	return i.label
}

func (i *Info) Description() string { return i.description }

// MenuPath returns a copy of the menu path; nil when the module has no menu placement.
func (i *Info) MenuPath() MenuPath { return slices.Clone(i.menuPath) }

// Accelerator returns the accelerator on the menu leaf, if any.
func (i *Info) Accelerator() (Accelerator, bool) {
	leaf, ok := i.menuPath.Leaf()
	if !ok || leaf.Accelerator.IsZero() {
		return Accelerator{}, false
	}
	return leaf.Accelerator, true
}

// Inputs returns the input items in declaration order.
func (i *Info) Inputs() []*Item { return slices.Clone(i.inputs) }

// Outputs returns the output items in declaration order.
func (i *Info) Outputs() []*Item { return slices.Clone(i.outputs) }

// NumInputs returns the number of declared inputs.
func (i *Info) NumInputs() int { return len(i.inputs) }

// Input looks up an input item by name.
func (i *Info) Input(name string) (*Item, bool) {
	it, ok := i.inputIdx[name]
	return it, ok
}

// Output looks up an output item by name.
func (i *Info) Output(name string) (*Item, bool) {
	it, ok := i.outputIdx[name]
	return it, ok
}

// CreateModule instantiates a new Module. Factory errors and panics are
// reported as *CreateError.
func (i *Info) CreateModule() (m Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = &CreateError{Module: i.name, Cause: fmt.Errorf("factory panicked: %v", r)}
		}
	}()

	m, err = i.factory(i)
	if err != nil {
		return nil, &CreateError{Module: i.name, Cause: err}
	}
	if m == nil {
		return nil, &CreateError{Module: i.name, Cause: fmt.Errorf("factory returned no module")}
	}
	return m, nil
}

func (i *Info) String() string {
	if len(i.menuPath) == 0 {
		return i.name
	}
	return fmt.Sprintf("%s [%s]", i.name, i.menuPath)
}
