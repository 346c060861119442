package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"refi-rate-alerts/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical snapshots from the primary rate API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse("2006-01-02", backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse("2006-01-02", backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.BackfillOptions{
			From:   from,
			To:     to,
			DryRun: backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First observation date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last observation date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
