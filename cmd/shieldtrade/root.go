package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shieldtrade/internal/config"
	"shieldtrade/internal/logger"
)

var appConfig *config.AppConfig

var rootCmd = &cobra.Command{
	Use:           "shieldtrade",
	Short:         "Encrypted offer client for the ShieldTrade contract",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		appConfig = cfg
		logger.InitLogger(cfg.Stage)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Log.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deploymentsCmd)
}
