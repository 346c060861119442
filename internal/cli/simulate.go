package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"refi-rate-alerts/internal/app"
)

var (
	simulateRate string
	simulateTerm string
	simulateFire bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用假设利率评估所有告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateRate == "" {
			return errors.New("--rate 必填")
		}
		rate, err := decimal.NewFromString(simulateRate)
		if err != nil {
			return errors.New("--rate 必须是小数，例如 0.0625")
		}
		term, err := parseTermFlag(simulateTerm)
		if err != nil {
			return err
		}

		opts := app.SimulateOptions{Rate: rate, Term: term, Fire: simulateFire}
		return getApp().SimulateAlert(cmd.Context(), opts, cmd.OutOrStdout())
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRate, "rate", "", "假设利率（小数），例如 0.0625")
	simulateCmd.Flags().StringVar(&simulateTerm, "term", "30", "利率对应的期限（年）")
	simulateCmd.Flags().BoolVar(&simulateFire, "fire", false, "写入触发记录并发送通知")
}
