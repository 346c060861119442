package app

import (
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"refi-rate-alerts/internal/finance"
)

// ExportOptions hold the loan and outputs for export-frontier.
type ExportOptions struct {
	Principal  float64
	Rate       float64
	TermMonths int
	RefiCost   float64
	Step       float64
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ExportFrontier computes the efficient frontier of a loan and writes it as
// CSV and/or a PNG chart.
func (a *App) ExportFrontier(opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Principal <= 0 {
		return errors.New("--principal must be greater than zero")
	}
	if opts.Step <= 0 {
		opts.Step = finance.DefaultRateStep
	}

	points, err := finance.EfficientFrontier(finance.FrontierOptions{
		Principal:  opts.Principal,
		AnnualRate: opts.Rate,
		TermMonths: opts.TermMonths,
		RefiCost:   opts.RefiCost,
		Step:       opts.Step,
	})
	if err != nil {
		return err
	}
	a.Logger.Info().Int("points", len(points)).Msg("frontier computed")

	if opts.CSVPath != "" {
		if err := writeFrontierCSV(opts.CSVPath, points); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeFrontierPNG(opts.PNGPath, downsample(points, opts.MaxPoints)); err != nil {
			return err
		}
	}

	return nil
}

func downsample[T any](items []T, max int) []T {
	if max <= 1 || len(items) <= max {
		return items
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writeFrontierCSV(path string, points []finance.FrontierPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"month", "remaining_principal", "interest_paid", "break_even_rate", "feasible"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			strconv.Itoa(p.Month),
			strconv.FormatFloat(finance.RoundCents(p.RemainingPrincipal), 'f', 2, 64),
			strconv.FormatFloat(finance.RoundCents(p.InterestPaid), 'f', 2, 64),
			strconv.FormatFloat(p.BreakEvenRate, 'f', 6, 64),
			strconv.FormatBool(p.Feasible),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeFrontierPNG(path string, points []finance.FrontierPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	months := make([]float64, 0, len(points))
	breakEven := make([]float64, 0, len(points))
	balanceMonths := make([]float64, len(points))
	balance := make([]float64, len(points))

	for i, p := range points {
		balanceMonths[i] = float64(p.Month)
		balance[i] = p.RemainingPrincipal
		// infeasible points would drag the axis down to -100%
		if p.Feasible {
			months = append(months, float64(p.Month))
			breakEven = append(breakEven, p.BreakEvenRate*100)
		}
	}
	if len(months) < 2 {
		return errors.New("not enough feasible frontier points to plot")
	}

	percentFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name: "Months into original loan",
		},
		YAxis: chart.YAxis{
			Name:           "Break-even rate (%)",
			ValueFormatter: percentFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "Remaining principal",
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Break-even rate %",
				XValues: months,
				YValues: breakEven,
			},
			chart.ContinuousSeries{
				Name:    "Remaining principal",
				XValues: balanceMonths,
				YValues: balance,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
