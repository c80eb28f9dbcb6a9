package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Talos/pkg/module"
	"github.com/wehubfusion/Talos/pkg/process"
	"github.com/wehubfusion/Talos/pkg/service"
)

type runOptions struct {
	set     []string
	asJSON  bool
	timeout time.Duration
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <module> [values...]",
		Short: "Run a module and print its outputs",
		Long: `Run a registered module. Values are bound to the inputs in declaration order;
use --set name=value to bind inputs by name instead. Values are converted to the
declared input types.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := opts.bindings(args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := root.assemble(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			info, ok := a.Service.Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown module %q", args[0])
			}
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			m, err := a.Service.Run(ctx, info, a.Pre, a.Post, callArgs).Wait(ctx)
			switch {
			case err == nil:
			case process.IsCanceled(err):
				return fmt.Errorf("%w (unresolved: %s)", err, unresolvedNames(m))
			default:
				return err
			}
			return opts.print(cmd, m)
		},
	}
	cmd.Flags().StringArrayVar(&opts.set, "set", nil, "Bind an input by name, as name=value (repeatable)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print outputs as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Give up waiting after this long")
	return cmd
}

func (o *runOptions) bindings(values []string) (service.Args, error) {
	if len(o.set) == 0 {
		pos := make(service.Positional, len(values))
		for i, v := range values {
			pos[i] = v
		}
		return pos, nil
	}
	if len(values) > 0 {
		return nil, errors.New("positional values cannot be combined with --set")
	}
	named := make(service.Named, len(o.set))
	for _, kv := range o.set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, expected name=value", kv)
		}
		named[k] = v
	}
	return named, nil
}

func (o *runOptions) print(cmd *cobra.Command, m module.Module) error {
	outputs := module.OutputValues(m)
	if o.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(outputs)
	}
	for _, it := range m.Info().Outputs() {
		if v, ok := outputs[it.Name()]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", it.Name(), v)
		}
	}
	return nil
}

func unresolvedNames(m module.Module) string {
	if m == nil {
		return ""
	}
	var names []string
	for _, it := range module.Unresolved(m) {
		names = append(names, it.Name())
	}
	return strings.Join(names, ", ")
}
