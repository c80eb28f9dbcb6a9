package manifest

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/zclconf/go-cty/cty"
	ctyconvert "github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

var anyType = reflect.TypeFor[any]()

// GoType maps a type constraint to the Go type module items carry.
//
//	number        float64
//	string        string
//	bool          bool
//	list/set(T)   []T
//	tuple         []any
//	map(T)        map[string]T
//	object, any   map[string]any, any
func GoType(t cty.Type) reflect.Type {
	switch {
	case t == cty.Number:
		return reflect.TypeFor[float64]()
	case t == cty.String:
		return reflect.TypeFor[string]()
	case t == cty.Bool:
		return reflect.TypeFor[bool]()
	case t.IsListType() || t.IsSetType():
		return reflect.SliceOf(GoType(t.ElementType()))
	case t.IsTupleType():
		return reflect.TypeFor[[]any]()
	case t.IsMapType():
		return reflect.MapOf(reflect.TypeFor[string](), GoType(t.ElementType()))
	case t.IsObjectType():
		return reflect.TypeFor[map[string]any]()
	default:
		return anyType
	}
}

// GoValue decodes a literal into a value of typ.
func GoValue(val cty.Value, typ reflect.Type) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	switch typ.Kind() {
	case reflect.Interface:
		return generic(val), nil

	case reflect.Slice:
		vt := val.Type()
		if !vt.IsListType() && !vt.IsSetType() && !vt.IsTupleType() {
			return nil, fmt.Errorf("cannot use %s as %s", val.Type().FriendlyName(), typ)
		}
		out := reflect.MakeSlice(typ, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			elem, err := elemValue(ev, typ.Elem())
			if err != nil {
				return nil, err
			}
			out = reflect.Append(out, elem)
		}
		return out.Interface(), nil

	case reflect.Map:
		if !val.Type().IsMapType() && !val.Type().IsObjectType() {
			return nil, fmt.Errorf("cannot use %s as %s", val.Type().FriendlyName(), typ)
		}
		out := reflect.MakeMap(typ)
		for it := val.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			elem, err := elemValue(ev, typ.Elem())
			if err != nil {
				return nil, err
			}
			out.SetMapIndex(reflect.ValueOf(k.AsString()), elem)
		}
		return out.Interface(), nil
	}

	target, err := gocty.ImpliedType(reflect.Zero(typ).Interface())
	if err != nil {
		return nil, err
	}
	converted, err := ctyconvert.Convert(val, target)
	if err != nil {
		return nil, err
	}
	out := reflect.New(typ)
	if err := gocty.FromCtyValue(converted, out.Interface()); err != nil {
		return nil, err
	}
	return out.Elem().Interface(), nil
}

func elemValue(val cty.Value, typ reflect.Type) (reflect.Value, error) {
	out := reflect.New(typ).Elem()
	v, err := GoValue(val, typ)
	if err != nil {
		return reflect.Value{}, err
	}
	if v != nil {
		out.Set(reflect.ValueOf(v))
	}
	return out, nil
}

// generic decodes a value without a target type.
func generic(val cty.Value) any {
	if val.IsNull() {
		return nil
	}
	t := val.Type()
	switch {
	case t == cty.String:
		return val.AsString()
	case t == cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i
			}
		}
		f, _ := bf.Float64()
		return f
	case t == cty.Bool:
		return val.True()
	case t.IsListType() || t.IsSetType() || t.IsTupleType():
		var out []any
		for it := val.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, generic(ev))
		}
		return out
	case t.IsMapType() || t.IsObjectType():
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			out[k.AsString()] = generic(ev)
		}
		return out
	default:
		return nil
	}
}
