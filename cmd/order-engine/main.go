package main

import (
	"fmt"
	"os"

	"github.com/aq2208/course-orders/configs"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configDir string
	envName   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "order-engine",
		Short:         "Course order and payment lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	env := os.Getenv("APP_ENV") // dev | staging | prod
	if env == "" {
		env = "dev"
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "configs", "directory holding base.yaml and <env>.yaml")
	rootCmd.PersistentFlags().StringVar(&envName, "env", env, "config environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(component string) (configs.Config, error) {
	cfg, err := configs.Load(configDir, envName)
	if err != nil {
		return configs.Config{}, err
	}
	logging.Init(logging.Options{
		Component: component,
		FilePath:  cfg.App.LogFile,
		Level:     cfg.App.LogLevel,
	})
	return cfg, nil
}
