package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"refi-rate-alerts/internal/fetcher"
	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/storage"
)

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}

// rangeFetcher is the primary source's history endpoint.
type rangeFetcher interface {
	FetchRange(ctx context.Context, from, to time.Time) (map[time.Time]rates.RateSet, error)
}

// Backfill 从主数据源拉取历史观测值并写入快照表。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions, out io.Writer) error {
	if !opts.From.Before(opts.To) {
		return errors.New("回填范围为空，请检查 --from/--to")
	}

	primary, err := a.newPrimary()
	if err != nil {
		return err
	}
	if primary == nil {
		return errors.New("主数据源未启用或缺少 api_key，无法回填")
	}

	var store storage.RateStore
	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	} else {
		st, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		store = st
	}

	written, days, err := backfill(ctx, primary, store, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Backfilled %d snapshots over %d dates\n", written, days)
	return nil
}

// backfill writes dates in ascending order so each change_from_previous is
// measured against the date before it. A nil store only counts.
func backfill(ctx context.Context, src rangeFetcher, store storage.RateStore, opts BackfillOptions) (int, int, error) {
	byDate, err := src.FetchRange(ctx, opts.From, opts.To)
	if err != nil {
		return 0, 0, err
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	written := 0
	for _, d := range dates {
		select {
		case <-ctx.Done():
			return written, len(dates), ctx.Err()
		default:
		}

		set := byDate[d]
		for _, term := range set.Terms() {
			if store != nil {
				q := set[term]
				if _, _, err := store.Upsert(ctx, storage.RateWrite{
					Date:     d,
					RateType: term.RateType(),
					Rate:     q.Rate,
					Points:   q.Points,
					APR:      q.APR,
					Source:   fetcher.SourcePrimary,
				}); err != nil {
					return written, len(dates), fmt.Errorf("backfill %s %s: %w", d.Format("2006-01-02"), term.RateType(), err)
				}
			}
			written++
		}
	}
	return written, len(dates), nil
}
