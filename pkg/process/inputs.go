package process

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/wehubfusion/Talos/pkg/module"
)

// Defaults resolves every unresolved input that declares a default value.
func Defaults() Preprocessor {
	return PreprocessorFunc(func(ctx context.Context, m module.Module) error {
		for _, it := range module.Unresolved(m) {
			if def, ok := it.Default(); ok {
				m.SetInput(it.Name(), def)
				m.SetResolved(it.Name(), true)
			}
		}
		return nil
	})
}

// RequireInputs cancels the run when a required input is still unresolved.
func RequireInputs() Preprocessor {
	return PreprocessorFunc(func(ctx context.Context, m module.Module) error {
		var missing []string
		for _, it := range module.Unresolved(m) {
			if it.IsRequired() {
				missing = append(missing, it.Name())
			}
		}
		if len(missing) > 0 {
			return Cancel("unresolved required inputs: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// SupplyFunc produces a value for an input chosen by Supply.
type SupplyFunc func(ctx context.Context, m module.Module, item *module.Item) (any, error)

// Supply resolves the single unresolved input assignable to typ with the
// value returned by fn. When no unique candidate exists the module is left
// untouched.
func Supply(typ reflect.Type, fn SupplyFunc) Preprocessor {
	return PreprocessorFunc(func(ctx context.Context, m module.Module) error {
		item, ok := module.SingleInput(m, typ)
		if !ok {
			return nil
		}
		v, err := fn(ctx, m, item)
		if err != nil {
			return fmt.Errorf("supply input %q: %w", item.Name(), err)
		}
		m.SetInput(item.Name(), v)
		m.SetResolved(item.Name(), true)
		return nil
	})
}

// SupplyValue is Supply with a constant value of type T.
func SupplyValue[T any](v T) Preprocessor {
	return Supply(reflect.TypeFor[T](), func(context.Context, module.Module, *module.Item) (any, error) {
		return v, nil
	})
}
