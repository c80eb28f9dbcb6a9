package service

import (
	"fmt"
	"maps"
	"slices"

	"github.com/wehubfusion/Talos/pkg/convert"
	"github.com/wehubfusion/Talos/pkg/module"
	"go.uber.org/zap"
)

// Args is the caller-supplied argument set of a run: Positional or Named.
type Args interface {
	bindings(info *module.Info) (pairs []Binding, mismatch bool)
}

// Positional values are zipped against the declared input order.
type Positional []any

// Named values are keyed by input name.
type Named map[string]any

// Binding is one name/value pair after normalization.
type Binding struct {
	Name  string
	Value any
}

func (p Positional) bindings(info *module.Info) ([]Binding, bool) {
	if len(p) == 0 {
		return nil, false
	}
	inputs := info.Inputs()
	n := min(len(p), len(inputs))
	pairs := make([]Binding, 0, n)
	for i := range n {
		pairs = append(pairs, Binding{Name: inputs[i].Name(), Value: p[i]})
	}
	return pairs, len(p) != len(inputs)
}

func (n Named) bindings(*module.Info) ([]Binding, bool) {
	pairs := make([]Binding, 0, len(n))
	for _, k := range slices.Sorted(maps.Keys(n)) {
		pairs = append(pairs, Binding{Name: k, Value: n[k]})
	}
	return pairs, false
}

// Normalize turns args into name/value pairs. mismatch reports a positional
// list whose length differs from the number of declared inputs; the excess is
// dropped. A nil args yields no pairs.
func Normalize(info *module.Info, args Args) (pairs []Binding, mismatch bool) {
	if args == nil || info == nil {
		return nil, false
	}
	return args.bindings(info)
}

// CoercionFailure describes a value that could not be converted to the type of
// its input.
type CoercionFailure struct {
	Input      string
	ValueType  string
	TargetType string
}

func (f CoercionFailure) String() string {
	return fmt.Sprintf("%s: cannot convert %s to %s", f.Input, f.ValueType, f.TargetType)
}

// BindReport is the per-key outcome of binding arguments onto a module.
type BindReport struct {
	// Mismatch is set when a positional list length differed from the
	// declared input count.
	Mismatch bool
	Supplied int
	Declared int

	Bound    []string
	Unknown  []string
	Failures []CoercionFailure
}

// OK reports whether every supplied argument was bound.
func (r BindReport) OK() bool {
	return !r.Mismatch && len(r.Unknown) == 0 && len(r.Failures) == 0
}

// Bind assigns args to the inputs of m, converting each value to the declared
// input type. Every problem is soft: it is logged, recorded in the report and
// the offending entry is left unresolved.
func Bind(m module.Module, args Args, conv convert.Converter, logger *zap.Logger) BindReport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if conv == nil {
		conv = convert.Default()
	}

	info := m.Info()
	report := BindReport{Declared: info.NumInputs()}

	pairs, mismatch := Normalize(info, args)
	if p, ok := args.(Positional); ok {
		report.Supplied = len(p)
	} else {
		report.Supplied = len(pairs)
	}
	if mismatch {
		report.Mismatch = true
		logger.Warn("Argument mismatch",
			zap.String("module", info.Name()),
			zap.Int("supplied", report.Supplied),
			zap.Int("declared", report.Declared))
	}

	for _, b := range pairs {
		item, ok := info.Input(b.Name)
		if !ok {
			report.Unknown = append(report.Unknown, b.Name)
			logger.Warn("No such input",
				zap.String("module", info.Name()),
				zap.String("input", b.Name))
			continue
		}

		converted, ok := conv.Convert(b.Value, item.Type())
		if !ok || (converted == nil && b.Value != nil) {
			failure := CoercionFailure{
				Input:      b.Name,
				ValueType:  fmt.Sprintf("%T", b.Value),
				TargetType: item.Type().String(),
			}
			report.Failures = append(report.Failures, failure)
			logger.Warn("Cannot convert argument",
				zap.String("module", info.Name()),
				zap.String("input", b.Name),
				zap.String("value_type", failure.ValueType),
				zap.String("target_type", failure.TargetType))
			continue
		}

		m.SetInput(b.Name, converted)
		m.SetResolved(b.Name, true)
		report.Bound = append(report.Bound, b.Name)
	}
	return report
}
