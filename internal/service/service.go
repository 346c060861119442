package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/evaluator"
	"refi-rate-alerts/internal/fetcher"
	"refi-rate-alerts/internal/ledger"
	"refi-rate-alerts/internal/metrics"
	"refi-rate-alerts/internal/portfolio"
	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/storage"
)

// Job labels used in logs and metrics.
const (
	JobFullCycle  = "full_cycle"
	JobAlertCheck = "alert_check"
)

// SourceStored marks an alert check that reused today's stored rates.
const SourceStored = "stored"

// RateFetcher yields the consolidated current rates.
type RateFetcher interface {
	FetchCurrentRates(ctx context.Context) (fetcher.Result, error)
}

// AlertOutcome is the per-alert detail of one evaluation pass.
type AlertOutcome struct {
	AlertID int64
	Result  evaluator.Result
	// Fired is true when a trigger was stored, or would be in a dry run.
	Fired bool
	Err   error
}

// Summary reports one cycle.
type Summary struct {
	RatesUpdated    int
	AlertsEvaluated int
	AlertsTriggered int
	Errors          int
	PrimaryRate     *decimal.Decimal
	Source          string
	// Skipped is set when another process held the cycle lock.
	Skipped  bool
	Outcomes []AlertOutcome
}

// Options tune the service.
type Options struct {
	// Location decides which calendar day a fetch belongs to.
	Location        *time.Location
	AdvisoryLockKey int64
	Now             func() time.Time
}

// Service orchestrates fetching, persistence, and alert evaluation.
type Service struct {
	fetcher   RateFetcher
	store     storage.RateStore
	mortgages portfolio.MortgageRepository
	alerts    portfolio.AlertRepository
	ledger    *ledger.Ledger
	locker    storage.AdvisoryLocker
	opts      Options
	logger    zerolog.Logger
}

// New constructs the monitoring service.
func New(f RateFetcher, store storage.RateStore, mortgages portfolio.MortgageRepository, alerts portfolio.AlertRepository, l *ledger.Ledger, opts Options, logger zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var locker storage.AdvisoryLocker
	if al, ok := store.(storage.AdvisoryLocker); ok {
		locker = al
	}

	return &Service{
		fetcher:   f,
		store:     store,
		mortgages: mortgages,
		alerts:    alerts,
		ledger:    l,
		locker:    locker,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// FetchOnly runs the source chain without persisting or evaluating.
func (s *Service) FetchOnly(ctx context.Context) (fetcher.Result, error) {
	return s.fetcher.FetchCurrentRates(ctx)
}

// RunFullCycle fetches, stores and evaluates. A failed fetch aborts the
// cycle before evaluation.
func (s *Service) RunFullCycle(ctx context.Context) (Summary, error) {
	return s.guarded(ctx, JobFullCycle, s.fullCycle)
}

// RunAlertCheck re-evaluates against today's stored rates when present and
// otherwise behaves like RunFullCycle.
func (s *Service) RunAlertCheck(ctx context.Context) (Summary, error) {
	return s.guarded(ctx, JobAlertCheck, func(ctx context.Context) (Summary, error) {
		stored, err := storage.LoadLatestSet(ctx, s.store)
		if err != nil {
			return Summary{}, err
		}
		today := s.today()
		current := make(rates.RateSet, stored.Len())
		for term, q := range stored {
			if q.Date.Equal(today) {
				current[term] = q
			}
		}
		if current.Len() == 0 {
			s.logger.Info().Msg("no rates stored today, fetching")
			return s.fullCycle(ctx)
		}

		summary, err := s.Evaluate(ctx, current, false)
		summary.Source = SourceStored
		summary.PrimaryRate = primaryRate(current)
		return summary, err
	})
}

func (s *Service) guarded(ctx context.Context, job string, run func(context.Context) (Summary, error)) (Summary, error) {
	started := time.Now()
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		metrics.ObserveCycle(job, metrics.ResultError, time.Since(started))
		return Summary{}, err
	}
	if !proceed {
		s.logger.Info().Str("job", job).Msg("skip cycle because advisory lock held elsewhere")
		metrics.ObserveCycle(job, metrics.ResultSkipped, time.Since(started))
		return Summary{Skipped: true}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	summary, err := run(ctx)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveCycle(job, result, time.Since(started))

	event := s.logger.Info()
	if err != nil {
		event = s.logger.Error().Err(err)
	}
	event.Str("job", job).
		Str("source", summary.Source).
		Int("rates_updated", summary.RatesUpdated).
		Int("alerts_evaluated", summary.AlertsEvaluated).
		Int("alerts_triggered", summary.AlertsTriggered).
		Int("errors", summary.Errors).
		Dur("elapsed", time.Since(started)).
		Msg("cycle finished")
	return summary, err
}

func (s *Service) fullCycle(ctx context.Context) (Summary, error) {
	res, err := s.fetcher.FetchCurrentRates(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch current rates: %w", err)
	}

	summary := Summary{Source: res.Source, PrimaryRate: primaryRate(res.Rates)}

	// Historical results are already stored; writing them again would stamp
	// old values with today's date.
	if res.Source != fetcher.SourceHistorical {
		updated, err := s.persist(ctx, res)
		summary.RatesUpdated = updated
		metrics.AddRatesStored(updated)
		if err != nil {
			return summary, err
		}
	}

	evaluated, err := s.Evaluate(ctx, res.Rates, false)
	evaluated.RatesUpdated = summary.RatesUpdated
	evaluated.Source = summary.Source
	evaluated.PrimaryRate = summary.PrimaryRate
	return evaluated, err
}

func (s *Service) persist(ctx context.Context, res fetcher.Result) (int, error) {
	day := s.today()
	updated := 0
	for _, term := range res.Rates.Terms() {
		q := res.Rates[term]
		_, _, err := s.store.Upsert(ctx, storage.RateWrite{
			Date:     day,
			RateType: term.RateType(),
			Rate:     q.Rate,
			Points:   q.Points,
			APR:      q.APR,
			Source:   res.Source,
		})
		if err != nil {
			return updated, fmt.Errorf("store %s: %w", term.RateType(), err)
		}
		updated++
	}
	return updated, nil
}

// Evaluate runs every eligible alert against current. With dryRun no trigger
// is written and Fired reports whether the cooldown would allow one.
// Failures of a single alert are counted and logged; only a failure to list
// alerts is returned.
func (s *Service) Evaluate(ctx context.Context, current rates.RateSet, dryRun bool) (Summary, error) {
	summary := Summary{PrimaryRate: primaryRate(current)}

	alerts, err := s.alerts.ListEligible(ctx)
	if err != nil {
		return summary, fmt.Errorf("list eligible alerts: %w", err)
	}

	for _, alert := range alerts {
		outcome := s.evaluateOne(ctx, alert, current, dryRun)
		summary.Outcomes = append(summary.Outcomes, outcome)
		if outcome.Err != nil {
			summary.Errors++
			metrics.IncAlertError()
			s.logger.Error().Err(outcome.Err).Int64("alert_id", alert.ID).Msg("alert evaluation failed")
			continue
		}
		summary.AlertsEvaluated++
		metrics.IncAlertEvaluated()
		if outcome.Fired {
			summary.AlertsTriggered++
		}
	}
	return summary, nil
}

func (s *Service) evaluateOne(ctx context.Context, alert portfolio.Alert, current rates.RateSet, dryRun bool) AlertOutcome {
	outcome := AlertOutcome{AlertID: alert.ID}

	mortgage, err := s.mortgages.GetMortgage(ctx, alert.MortgageID)
	if err != nil {
		outcome.Err = fmt.Errorf("load mortgage %d: %w", alert.MortgageID, err)
		return outcome
	}

	res, err := evaluator.Evaluate(alert, mortgage, current)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	outcome.Result = res
	if !res.Triggered {
		return outcome
	}

	if dryRun {
		fire, err := s.ledger.ShouldFire(ctx, alert.ID)
		outcome.Fired, outcome.Err = fire, err
		return outcome
	}

	trig, err := s.ledger.Record(ctx, ledger.Event{
		Alert:            alert,
		Mortgage:         mortgage,
		Term:             res.Term,
		Reason:           res.Reason,
		Rate:             res.RateUsed,
		PotentialPayment: res.PotentialPayment,
	})
	if err != nil {
		outcome.Err = fmt.Errorf("record trigger: %w", err)
		return outcome
	}
	outcome.Fired = trig != nil
	return outcome
}

// LatestRates returns the newest stored quote per term.
func (s *Service) LatestRates(ctx context.Context) (rates.RateSet, error) {
	return storage.LoadLatestSet(ctx, s.store)
}

// IsNoSource reports whether err means every rate source failed.
func IsNoSource(err error) bool {
	return errors.Is(err, rates.ErrNoSourceAvailable)
}

func (s *Service) today() time.Time {
	return rates.DateOf(s.opts.Now(), s.opts.Location)
}

func primaryRate(set rates.RateSet) *decimal.Decimal {
	q, ok := set.Primary()
	if !ok {
		return nil
	}
	r := q.Rate
	return &r
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
