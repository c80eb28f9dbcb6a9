package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Talos/internal/app"
	"github.com/wehubfusion/Talos/pkg/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "talos",
		Short: "Run registered modules",
		Long: `Talos keeps a registry of modules, built-in and declared in HCL manifests,
and runs them through a pre/post-processing pipeline on a bounded worker pool.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML configuration file")
	cmd.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "l", "", "Override the log level: debug, info, warn, error")

	cmd.AddCommand(newListCmd(opts), newRunCmd(opts), newServeCmd(opts))
	return cmd
}

// assemble builds the application for one command invocation.
func (o *rootOptions) assemble(ctx context.Context) (*app.App, error) {
	return app.New(ctx, o.cfg)
}
