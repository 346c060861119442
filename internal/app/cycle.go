package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/service"
)

// UpdateRates runs one full cycle and prints its summary. The returned error
// decides the exit code.
func (a *App) UpdateRates(ctx context.Context, verbose bool, out io.Writer) error {
	rt, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	summary, err := rt.service.RunFullCycle(ctx)
	if err != nil {
		fmt.Fprintf(out, "update failed: %v\n", err)
		return err
	}
	if summary.Skipped {
		fmt.Fprintln(out, "another instance is running a cycle; nothing done")
		return nil
	}

	fmt.Fprintf(out, "Updated %d rates from %s\n", summary.RatesUpdated, summary.Source)
	fmt.Fprintf(out, "Current 30-year rate: %s\n", formatRate(summary.PrimaryRate))
	fmt.Fprintf(out, "Alerts triggered: %d (evaluated %d, errors %d)\n",
		summary.AlertsTriggered, summary.AlertsEvaluated, summary.Errors)

	if verbose {
		printOutcomes(out, summary.Outcomes)
	}
	return nil
}

// TestRateFetch runs the source chain only and prints what it returned.
func (a *App) TestRateFetch(ctx context.Context, out io.Writer) error {
	rt, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.service.FetchOnly(ctx)
	if err != nil {
		fmt.Fprintf(out, "fetch failed: %v\n", err)
		return err
	}

	fmt.Fprintf(out, "source: %s\n", res.Source)
	printRateSet(out, res.Rates)
	return nil
}

// SchedulerStatus prints the armed jobs or a notice when scheduling is off.
func (a *App) SchedulerStatus(ctx context.Context, out io.Writer) error {
	if !a.Config.Scheduler.Enabled {
		fmt.Fprintln(out, "Scheduler is disabled (scheduler.enabled=false)")
		return nil
	}

	rt, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := a.newScheduler(rt.service)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Job\tName\tNext run\tSchedule")
	for _, job := range sched.Status() {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", job.JobID, job.Name, job.NextRun.Format(time.RFC3339), job.Description)
	}
	return writer.Flush()
}

func printRateSet(out io.Writer, set rates.RateSet) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Term\tRate\tPoints\tAPR\tDate")
	for _, term := range set.Terms() {
		q := set[term]
		date := ""
		if !q.Date.IsZero() {
			date = q.Date.Format("2006-01-02")
		}
		fmt.Fprintf(writer, "%d-year\t%s\t%s\t%s\t%s\n",
			term.Years(), formatRate(&q.Rate), formatOptional(q.Points, 3), formatRate(q.APR), date)
	}
	writer.Flush()
}

func printOutcomes(out io.Writer, outcomes []service.AlertOutcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(out, "no eligible alerts")
		return
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Alert\tMet\tFired\tDetail")
	for _, o := range outcomes {
		detail := o.Result.Reason
		if o.Err != nil {
			detail = "error: " + sanitizeInline(o.Err.Error())
		}
		fmt.Fprintf(writer, "%d\t%t\t%t\t%s\n", o.AlertID, o.Result.Triggered, o.Fired, detail)
	}
	writer.Flush()
}

func formatRate(rate *decimal.Decimal) string {
	if rate == nil {
		return "-"
	}
	return rate.Shift(2).StringFixed(3) + "%"
}

func formatOptional(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return formatDecimal(*d, places)
}
