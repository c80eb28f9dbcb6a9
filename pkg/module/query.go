package module

import "reflect"

// SingleInput returns the only unresolved input whose declared type is
// assignable to typ. It reports false when there are zero or several
// candidates, so callers only act on unambiguous requests.
func SingleInput(m Module, typ reflect.Type) (*Item, bool) {
	return singleItem(m, m.Info().inputs, typ)
}

// SingleOutput is the output counterpart of SingleInput.
func SingleOutput(m Module, typ reflect.Type) (*Item, bool) {
	return singleItem(m, m.Info().outputs, typ)
}

// SingleInputOf is SingleInput for the static type T.
func SingleInputOf[T any](m Module) (*Item, bool) {
	return SingleInput(m, reflect.TypeFor[T]())
}

// SingleOutputOf is SingleOutput for the static type T.
func SingleOutputOf[T any](m Module) (*Item, bool) {
	return SingleOutput(m, reflect.TypeFor[T]())
}

func singleItem(m Module, items []*Item, typ reflect.Type) (*Item, bool) {
	var found *Item
	for _, it := range items {
		if m.IsResolved(it.name) || !it.AssignableTo(typ) {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = it
	}
	return found, found != nil
}

// Unresolved lists the inputs of m that are not resolved, in declaration order.
func Unresolved(m Module) []*Item {
	var out []*Item
	for _, it := range m.Info().inputs {
		if !m.IsResolved(it.name) {
			out = append(out, it)
		}
	}
	return out
}

// InputValues collects the current input values of m keyed by name.
func InputValues(m Module) map[string]any {
	vals := make(map[string]any, len(m.Info().inputs))
	for _, it := range m.Info().inputs {
		vals[it.name] = m.Input(it.name)
	}
	return vals
}

// OutputValues collects the output values of m keyed by name. Outputs the
// body never set are omitted.
func OutputValues(m Module) map[string]any {
	vals := make(map[string]any, len(m.Info().outputs))
	for _, it := range m.Info().outputs {
		if v := m.Output(it.name); v != nil {
			vals[it.name] = v
		}
	}
	return vals
}
