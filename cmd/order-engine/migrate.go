package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aq2208/course-orders/internal/adapter/repo"
	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("migrate")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			db, err := repo.Open(ctx, cfg.MySQL.Driver, cfg.MySQL.DSN, repo.PoolConfig{})
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repo.Migrate(db, cfg.MySQL.Driver); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
