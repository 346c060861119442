package cli

import (
	"github.com/spf13/cobra"

	"refi-rate-alerts/internal/app"
)

var (
	exportPrincipal float64
	exportRate      float64
	exportTerm      int
	exportRefiCost  float64
	exportStep      float64
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export-frontier",
	Short: "Export a loan's break-even refinance frontier as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Principal:  exportPrincipal,
			Rate:       exportRate,
			TermMonths: exportTerm,
			RefiCost:   exportRefiCost,
			Step:       exportStep,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
			MaxPoints:  exportMaxPoints,
		}

		return getApp().ExportFrontier(opts)
	},
}

func init() {
	exportCmd.Flags().Float64Var(&exportPrincipal, "principal", 0, "Original loan principal")
	exportCmd.Flags().Float64Var(&exportRate, "rate", 0, "Original annual rate as a decimal, e.g. 0.045")
	exportCmd.Flags().IntVar(&exportTerm, "term", 360, "Original term in months")
	exportCmd.Flags().Float64Var(&exportRefiCost, "refi-cost", 0, "Estimated refinance closing cost")
	exportCmd.Flags().Float64Var(&exportStep, "step", 0, "Rate search step (defaults to 0.00125)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum points plotted in the PNG (0 plots all)")
}
