package script

import (
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var hiddenGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
}

var frozenBuiltins = []string{
	"Object",
	"Array",
	"Function",
	"String",
	"Number",
	"Boolean",
	"Date",
	"RegExp",
	"Error",
	"Math",
	"JSON",
}

// sandbox applies the restrictions of a security level to a runtime.
func sandbox(vm *goja.Runtime, cfg Config, logger *zap.Logger) error {
	vm.SetMaxCallStackSize(cfg.MaxStackDepth)

	for _, name := range hiddenGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if cfg.SecurityLevel == SecurityLevelStrict {
		deny := func(goja.FunctionCall) goja.Value {
			panic(vm.NewTypeError("eval is not allowed in strict security mode"))
		}
		if err := vm.Set("eval", deny); err != nil {
			return err
		}
	}

	if err := registerConsole(vm, logger); err != nil {
		return err
	}

	if cfg.SecurityLevel == SecurityLevelPermissive {
		return nil
	}
	return freeze(vm)
}

func freeze(vm *goja.Runtime) error {
	val, err := vm.RunString(`(function (obj) {
		if (obj && (typeof obj === 'object' || typeof obj === 'function')) {
			Object.freeze(obj);
			if (obj.prototype) { Object.freeze(obj.prototype); }
		}
	})`)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not callable")
	}
	for _, name := range frozenBuiltins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		// A builtin that refuses to freeze is left as is.
		_, _ = fn(goja.Undefined(), obj)
	}
	return nil
}

// registerConsole routes console.log and console.error to the logger.
func registerConsole(vm *goja.Runtime, logger *zap.Logger) error {
	console := vm.NewObject()

	args := func(call goja.FunctionCall) []any {
		out := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			out[i] = a.Export()
		}
		return out
	}

	logFn := func(call goja.FunctionCall) goja.Value {
		logger.Info("Script console", zap.Any("args", args(call)))
		return goja.Undefined()
	}
	errFn := func(call goja.FunctionCall) goja.Value {
		logger.Warn("Script console", zap.Any("args", args(call)))
		return goja.Undefined()
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"log": logFn, "info": logFn, "error": errFn, "warn": errFn,
	} {
		if err := console.Set(name, fn); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}
