package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/rates"
)

// Source names as they appear in logs, metrics and persisted snapshots.
const (
	SourcePrimary    = "primary_api"
	SourceScraper    = "web_scrape"
	SourceHistorical = "historical"
)

// Source yields a term -> quote mapping or fails.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (rates.RateSet, error)
}

// DefaultMaxRate is the upper bound a plausible mortgage rate may take.
var DefaultMaxRate = decimal.RequireFromString("0.15")

// validateSet rejects a whole result when any quote is out of bounds or dated
// after today in loc.
func validateSet(source string, set rates.RateSet, maxRate decimal.Decimal, now time.Time, loc *time.Location) error {
	today := rates.DateOf(now, loc)
	for _, term := range set.Terms() {
		q := set[term]
		if q.Rate.IsNegative() || q.Rate.GreaterThan(maxRate) {
			return &rates.ValidationError{
				Source: source,
				Reason: fmt.Sprintf("%s rate %s outside [0, %s]", term.RateType(), q.Rate, maxRate),
			}
		}
		if !q.Date.IsZero() && q.Date.After(today) {
			return &rates.ValidationError{
				Source: source,
				Reason: fmt.Sprintf("%s dated %s is in the future", term.RateType(), q.Date.Format("2006-01-02")),
			}
		}
	}
	return nil
}

// percentToRate converts "6.875" (percent) to 0.06875.
func percentToRate(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, &rates.ParseError{Field: field, Value: raw, Err: err}
	}
	return d.Div(decimal.NewFromInt(100)), nil
}
