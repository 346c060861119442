package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"refi-rate-alerts/internal/app"
	"refi-rate-alerts/internal/rates"
)

var (
	historyType  string
	historySince string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display stored rate snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		term, err := parseTermFlag(historyType)
		if err != nil {
			return err
		}

		since := time.Now().UTC().AddDate(0, 0, -30)
		if historySince != "" {
			since, err = time.Parse("2006-01-02", historySince)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
		}

		opts := app.HistoryOptions{
			Term:  term,
			Since: since,
		}

		return getApp().History(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

// parseTermFlag accepts "30", "30y" or "30_year_fixed".
func parseTermFlag(value string) (rates.Term, error) {
	if term, err := rates.ParseRateType(value); err == nil {
		return term, nil
	}
	term, err := rates.ParseTerm(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --type value: %w", err)
	}
	return term, nil
}

func init() {
	historyCmd.Flags().StringVar(&historyType, "type", "30", "Term in years or rate type, e.g. 15 or 15_year_fixed")
	historyCmd.Flags().StringVar(&historySince, "since", "", "First date to show (YYYY-MM-DD, default 30 days ago)")
}
