package cli

import (
	"github.com/spf13/cobra"
)

var updateVerbose bool

var updateRatesCmd = &cobra.Command{
	Use:   "update-rates",
	Short: "Fetch, store and evaluate once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().UpdateRates(cmd.Context(), updateVerbose, cmd.OutOrStdout())
	},
}

var testRateFetchCmd = &cobra.Command{
	Use:   "test-rate-fetch",
	Short: "Run the rate sources without storing or evaluating",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestRateFetch(cmd.Context(), cmd.OutOrStdout())
	},
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "scheduler-status",
	Short: "List scheduled jobs and their next run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SchedulerStatus(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	updateRatesCmd.Flags().BoolVarP(&updateVerbose, "verbose", "v", false, "Print every alert outcome")
}
