package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/aq2208/course-orders/internal/bootstrap"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the outbox, reconcile and consumer workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("order-engine")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.New(ctx, cfg, bootstrap.Overrides{})
			if err != nil {
				return err
			}
			defer app.Close()

			logging.New("main").Info("order-engine: starting up", "env", cfg.App.Env)
			return app.Run(ctx)
		},
	}
}
