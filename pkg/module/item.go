package module

import (
	"fmt"
	"reflect"
)

// Direction tells whether an item feeds a module or is produced by it.
type Direction int

const (
	// Input items are bound before the module runs.
	Input Direction = iota
	// Output items are populated by the module body.
	Output
)

// String returns the lower-case direction name.
func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	}
	return "unknown"
}

// Item describes one named, typed parameter of a module kind.
// Items are immutable once constructed.
type Item struct {
	name        string
	typ         reflect.Type
	direction   Direction
	label       string
	description string
	required    bool
	defaultVal  any
	hasDefault  bool
}

// ItemOption customizes an Item at construction time.
type ItemOption func(*Item)

// WithItemLabel sets a human readable label.
func WithItemLabel(label string) ItemOption {
	return func(it *Item) { it.label = label }
}

// WithItemDescription sets the item description.
func WithItemDescription(desc string) ItemOption {
	return func(it *Item) { it.description = desc }
}

// Required marks an input as required.
func Required() ItemOption {
	return func(it *Item) { it.required = true }
}

// WithDefault declares the value used when the item is left unresolved.
func WithDefault(v any) ItemOption {
	return func(it *Item) {
		it.defaultVal = v
		it.hasDefault = true
	}
}

// NewInput creates an input item. A nil type accepts any value.
func NewInput(name string, typ reflect.Type, opts ...ItemOption) *Item {
	return newItem(name, typ, Input, opts)
}

// NewOutput creates an output item. A nil type accepts any value.
func NewOutput(name string, typ reflect.Type, opts ...ItemOption) *Item {
	return newItem(name, typ, Output, opts)
}

// InputOf creates an input item typed by T.
func InputOf[T any](name string, opts ...ItemOption) *Item {
	return NewInput(name, reflect.TypeFor[T](), opts...)
}

// OutputOf creates an output item typed by T.
func OutputOf[T any](name string, opts ...ItemOption) *Item {
	return NewOutput(name, reflect.TypeFor[T](), opts...)
}

func newItem(name string, typ reflect.Type, dir Direction, opts []ItemOption) *Item {
	if typ == nil {
		typ = anyType
	}
	it := &Item{name: name, typ: typ, direction: dir}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

var anyType = reflect.TypeFor[any]()

// Name returns the item name, unique within its direction on a ModuleInfo.
func (it *Item) Name() string { return it.name }

// Type returns the declared Go type.
func (it *Item) Type() reflect.Type { return it.typ }

// Direction reports whether the item is an input or an output.
func (it *Item) Direction() Direction { return it.direction }

// IsInput reports whether the item is an input.
func (it *Item) IsInput() bool { return it.direction == Input }

// IsOutput reports whether the item is an output.
func (it *Item) IsOutput() bool { return it.direction == Output }

// Label returns the label, falling back to the name.
func (it *Item) Label() string {
	if it.label == "" {
		return it.name
	}
	return it.label
}

// Description returns the item description.
func (it *Item) Description() string { return it.description }

// IsRequired reports whether the item must be resolved before the body runs.
func (it *Item) IsRequired() bool { return it.required }

// Default returns the declared default value, if any.
func (it *Item) Default() (any, bool) { return it.defaultVal, it.hasDefault }

// AssignableTo reports whether values of the item's type can be used as typ.
func (it *Item) AssignableTo(typ reflect.Type) bool {
	if typ == nil {
		return true
	}
	return it.typ.AssignableTo(typ)
}

func (it *Item) String() string {
	return fmt.Sprintf("%s %s %s", it.direction, it.name, it.typ)
}
