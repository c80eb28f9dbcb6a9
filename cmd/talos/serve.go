package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/Talos/internal/server"
	"go.uber.org/zap"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer run requests over NATS",
		Long: `Subscribe to the configured run subject and answer JSON run requests until
interrupted. gRPC health checks are served on the configured address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := root.assemble(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			conn, err := a.NATS(ctx)
			if err != nil {
				return err
			}

			srv := server.New(a.Service, root.cfg.Server,
				server.WithProcessors(a.Pre, a.Post),
				server.WithLogger(a.Logger))
			if err := srv.Listen(ctx, conn); err != nil {
				return err
			}

			healthErr := make(chan error, 1)
			go func() { healthErr <- srv.ServeHealth() }()

			select {
			case <-ctx.Done():
				a.Logger.Info("Shutting down")
			case err = <-healthErr:
				if err != nil {
					a.Logger.Error("Health server stopped", zap.Error(err))
				}
			}
			srv.Shutdown()
			return err
		},
	}
}
