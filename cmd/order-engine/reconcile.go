package main

import (
	"fmt"

	"github.com/aq2208/course-orders/internal/bootstrap"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one sweep over stale pending payments and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("reconcile")
			if err != nil {
				return err
			}
			app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Overrides{})
			if err != nil {
				return err
			}
			defer app.Close()

			rep, err := app.Payments.ReconcileStale(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"scanned=%d captured=%d failed=%d expired=%d pending=%d errors=%d purged=%d\n",
				rep.Scanned, rep.Captured, rep.Failed, rep.Expired, rep.StillPending, rep.Errors, rep.Purged)
			return nil
		},
	}
}
