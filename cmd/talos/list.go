package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Talos/pkg/module"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.assemble(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tMENU\tACCELERATOR\tINPUTS\tOUTPUTS")
			for _, info := range a.Service.Modules() {
				acc := ""
				if a, ok := info.Accelerator(); ok {
					acc = a.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					info.Name(), info.MenuPath(), acc, items(info.Inputs()), items(info.Outputs()))
			}
			return w.Flush()
		},
	}
}

func items(list []*module.Item) string {
	parts := make([]string, len(list))
	for i, it := range list {
		parts[i] = it.Name() + ":" + it.Type().String()
	}
	return strings.Join(parts, ", ")
}
