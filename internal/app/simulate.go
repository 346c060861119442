package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/rates"
)

// SimulateOptions configure simulate-alert.
type SimulateOptions struct {
	Rate decimal.Decimal
	Term rates.Term
	// Fire records triggers and sends notifications instead of a dry run.
	Fire bool
}

// SimulateAlert 用给定利率评估所有有效告警，默认不写入触发记录。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions, out io.Writer) error {
	if opts.Rate.IsNegative() || opts.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("--rate 必须是 0 到 1 之间的小数，例如 0.0625")
	}

	rt, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	loc, err := a.Config.Scheduler.Location()
	if err != nil {
		return err
	}
	set := rates.RateSet{opts.Term: {Rate: opts.Rate, Date: rates.DateOf(time.Now(), loc)}}

	summary, err := rt.service.Evaluate(ctx, set, !opts.Fire)
	if err != nil {
		return err
	}

	mode := "dry run"
	if opts.Fire {
		mode = "recorded"
	}
	fmt.Fprintf(out, "Simulated %d-year rate %s (%s)\n", opts.Term.Years(), formatRate(&opts.Rate), mode)
	printOutcomes(out, summary.Outcomes)
	fmt.Fprintf(out, "Alerts met and allowed to fire: %d of %d evaluated\n", summary.AlertsTriggered, summary.AlertsEvaluated)
	return nil
}
