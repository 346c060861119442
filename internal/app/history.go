package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/storage"
)

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Term  rates.Term
	Since time.Time
}

// History prints stored snapshots of one term since a date.
func (a *App) History(ctx context.Context, opts HistoryOptions, out io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return printHistory(ctx, store, opts, out)
}

func printHistory(ctx context.Context, store storage.RateStore, opts HistoryOptions, out io.Writer) error {
	snapshots, err := store.History(ctx, opts.Term.RateType(), opts.Since)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintf(out, "no %s snapshots since %s\n", opts.Term.RateType(), opts.Since.Format("2006-01-02"))
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tRate\tChange\tPoints\tAPR\tSource")

	for _, snap := range snapshots {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			snap.Date.Format("2006-01-02"),
			formatRate(&snap.Rate),
			formatChange(snap),
			formatOptional(snap.Points, 3),
			formatRate(snap.APR),
			sanitizeInline(snap.Source),
		)
	}

	return writer.Flush()
}

// formatChange renders change_from_previous in basis points.
func formatChange(snap storage.RateSnapshot) string {
	if snap.ChangeFromPrevious == nil {
		return "-"
	}
	bp := snap.ChangeFromPrevious.Shift(4)
	sign := ""
	if bp.IsPositive() {
		sign = "+"
	}
	return sign + bp.StringFixed(1) + "bp"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
