package cli

import (
	"github.com/spf13/cobra"

	"refi-rate-alerts/internal/config"
)

var runDailyAt string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler and admin API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if runDailyAt != "" {
			hour, minute, err := config.ParseDailyAt(runDailyAt)
			if err != nil {
				return err
			}
			a.Config.Scheduler.DailyHour = hour
			a.Config.Scheduler.DailyMinute = minute
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runDailyAt, "daily-at", "", "Override the daily cycle time (HH:MM, scheduler timezone)")
}
