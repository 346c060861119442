package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"refi-rate-alerts/internal/app"
	"refi-rate-alerts/internal/config"
	"refi-rate-alerts/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "ratewatch",
	Short:         "Monitor mortgage rates and fire refinance alerts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(updateRatesCmd)
	rootCmd.AddCommand(testRateFetchCmd)
	rootCmd.AddCommand(schedulerStatusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
