// Package convert implements the type-coercion collaborator used when binding
// loosely typed caller arguments onto typed module inputs.
package convert

import (
	"reflect"

	"github.com/zclconf/go-cty/cty"
	ctyconvert "github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Converter converts value to target. It never panics and reports failure
// through ok == false.
type Converter interface {
	Convert(value any, target reflect.Type) (converted any, ok bool)
}

// Func adapts an ordinary function to the Converter interface.
type Func func(value any, target reflect.Type) (any, bool)

// Convert calls f(value, target).
func (f Func) Convert(value any, target reflect.Type) (any, bool) { return f(value, target) }

// Cty is the default Converter. Values that are already assignable pass
// through unchanged; everything else is routed through go-cty so that, for
// example, "3" converts to int and 3 converts to "3", while lossy conversions
// such as 3.5 to int fail.
type Cty struct{}

var _ Converter = Cty{}

// Default returns the go-cty backed converter.
func Default() Converter { return Cty{} }

// Convert implements Converter.
func (Cty) Convert(value any, target reflect.Type) (converted any, ok bool) {
	if value == nil {
		return nil, true
	}
	src := reflect.TypeOf(value)
	if target == nil || src.AssignableTo(target) {
		return value, true
	}
	if target.Kind() == reflect.Interface {
		// Nothing to convert into: the value simply does not implement it.
		return nil, false
	}

	defer func() {
		if r := recover(); r != nil {
			converted, ok = nil, false
		}
	}()

	if out, ok := viaCty(value, target); ok {
		return out, true
	}
	if out, ok := elementwise(value, target); ok {
		return out, true
	}

	// Named types sharing a kind, e.g. type Celsius float64.
	if src.Kind() == target.Kind() && src.ConvertibleTo(target) {
		return reflect.ValueOf(value).Convert(target).Interface(), true
	}
	return nil, false
}

func viaCty(value any, target reflect.Type) (any, bool) {
	srcType, err := gocty.ImpliedType(value)
	if err != nil {
		return nil, false
	}
	ctyVal, err := gocty.ToCtyValue(value, srcType)
	if err != nil {
		return nil, false
	}

	targetType, err := gocty.ImpliedType(reflect.Zero(target).Interface())
	if err != nil {
		return nil, false
	}
	if !targetType.Equals(srcType) {
		ctyVal, err = ctyconvert.Convert(ctyVal, targetType)
		if err != nil {
			return nil, false
		}
	}
	if ctyVal.IsNull() || !ctyVal.IsWhollyKnown() {
		return nil, false
	}

	out := reflect.New(target)
	if err := gocty.FromCtyValue(ctyVal, out.Interface()); err != nil {
		return nil, false
	}
	return out.Elem().Interface(), true
}

// elementwise converts containers whose element type go-cty cannot infer,
// such as []any or map[string]any decoded from JSON or a script runtime.
func elementwise(value any, target reflect.Type) (any, bool) {
	src := reflect.ValueOf(value)
	switch {
	case (src.Kind() == reflect.Slice || src.Kind() == reflect.Array) && target.Kind() == reflect.Slice:
		out := reflect.MakeSlice(target, 0, src.Len())
		for i := range src.Len() {
			elem, ok := convertElem(src.Index(i).Interface(), target.Elem())
			if !ok {
				return nil, false
			}
			out = reflect.Append(out, elem)
		}
		return out.Interface(), true

	case src.Kind() == reflect.Map && src.Type().Key().Kind() == reflect.String &&
		target.Kind() == reflect.Map && target.Key().Kind() == reflect.String:
		out := reflect.MakeMapWithSize(target, src.Len())
		iter := src.MapRange()
		for iter.Next() {
			elem, ok := convertElem(iter.Value().Interface(), target.Elem())
			if !ok {
				return nil, false
			}
			out.SetMapIndex(reflect.ValueOf(iter.Key().String()).Convert(target.Key()), elem)
		}
		return out.Interface(), true
	}
	return nil, false
}

func convertElem(v any, target reflect.Type) (reflect.Value, bool) {
	out := reflect.New(target).Elem()
	if v == nil {
		return out, true
	}
	converted, ok := Cty{}.Convert(v, target)
	if !ok {
		return reflect.Value{}, false
	}
	if converted != nil {
		out.Set(reflect.ValueOf(converted))
	}
	return out, true
}

// ImpliedCtyType reports the cty type go-cty infers for the Go type t.
func ImpliedCtyType(t reflect.Type) (cty.Type, bool) {
	if t == nil || t.Kind() == reflect.Interface {
		return cty.DynamicPseudoType, true
	}
	ct, err := gocty.ImpliedType(reflect.Zero(t).Interface())
	if err != nil {
		return cty.NilType, false
	}
	return ct, true
}
