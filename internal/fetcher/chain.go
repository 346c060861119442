package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/metrics"
	"refi-rate-alerts/internal/rates"
)

// Result is one consolidated fetch.
type Result struct {
	Rates  rates.RateSet
	Source string
}

// ChainOptions tune validation of source results.
type ChainOptions struct {
	MaxRate  decimal.Decimal
	Location *time.Location
	Now      func() time.Time
}

// RateFetcher walks its sources in order and returns the first non-empty,
// valid result.
type RateFetcher struct {
	sources []Source
	opts    ChainOptions
	logger  zerolog.Logger
}

// NewRateFetcher builds the fallback chain.
func NewRateFetcher(sources []Source, opts ChainOptions, logger zerolog.Logger) *RateFetcher {
	if opts.MaxRate.IsZero() {
		opts.MaxRate = DefaultMaxRate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RateFetcher{
		sources: sources,
		opts:    opts,
		logger:  logger.With().Str("component", "rate_fetcher").Logger(),
	}
}

var errEmptyResult = errors.New("source returned no rates")

// FetchCurrentRates returns a *rates.NoSourceError when every source failed.
func (f *RateFetcher) FetchCurrentRates(ctx context.Context) (Result, error) {
	attempts := make([]rates.SourceAttempt, 0, len(f.sources))
	for i, src := range f.sources {
		set, err := src.Fetch(ctx)
		if err == nil && set.Len() == 0 {
			err = &rates.FetchError{Source: src.Name(), Err: errEmptyResult}
		}
		if err == nil {
			err = validateSet(src.Name(), set, f.opts.MaxRate, f.opts.Now(), f.opts.Location)
		}
		if err != nil {
			metrics.IncFetch(src.Name(), metrics.ResultError)
			attempts = append(attempts, rates.SourceAttempt{Source: src.Name(), Err: err})

			event := f.logger.Warn().Err(err).Str("source", src.Name())
			if i+1 < len(f.sources) {
				event = event.Str("next", f.sources[i+1].Name())
			}
			event.Msg("rate source failed, falling back")
			continue
		}

		metrics.IncFetch(src.Name(), metrics.ResultSuccess)
		if i > 0 {
			f.logger.Info().Str("source", src.Name()).Int("terms", set.Len()).Msg("fallback source succeeded")
		}
		return Result{Rates: set, Source: src.Name()}, nil
	}

	f.logger.Error().Int("attempts", len(attempts)).Msg("no rate source available")
	return Result{}, &rates.NoSourceError{Attempts: attempts}
}
