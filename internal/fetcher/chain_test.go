package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/storage"
)

type stubSource struct {
	name  string
	set   rates.RateSet
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(context.Context) (rates.RateSet, error) {
	s.calls++
	return s.set, s.err
}

var fixedNow = func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) }

func quote(rate string) rates.Quote {
	return rates.Quote{Rate: decimal.RequireFromString(rate), Date: time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)}
}

func TestFetchFallsBackFromPrimaryToScraper(t *testing.T) {
	primarySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primarySrv.Close()

	page := ratesPage(`<tr><td>30 Yr. Fixed</td><td>6.80%</td><td>0.5</td><td>0.00</td><td>10/15/2026</td></tr>`)
	scrapeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer scrapeSrv.Close()

	historical := &stubSource{name: SourceHistorical, set: rates.RateSet{rates.Term30: quote("0.07")}}
	f := NewRateFetcher([]Source{
		NewPrimaryAPI(PrimaryOptions{BaseURL: primarySrv.URL, APIKey: "k", Series: map[rates.Term]string{rates.Term30: "MORTGAGE30US"}}, zerolog.Nop()),
		NewWebScrapeSource(ScraperOptions{URL: scrapeSrv.URL, ProviderHref: providerHref}, zerolog.Nop()),
		historical,
	}, ChainOptions{Now: fixedNow}, zerolog.Nop())

	res, err := f.FetchCurrentRates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceScraper, res.Source)
	assert.Equal(t, map[int]float64{30: 0.068}, res.Rates.Floats())
	assert.Zero(t, historical.calls)
}

func TestFetchStopsAtFirstSuccess(t *testing.T) {
	first := &stubSource{name: "a", set: rates.RateSet{rates.Term30: quote("0.065")}}
	second := &stubSource{name: "b", set: rates.RateSet{rates.Term30: quote("0.07")}}

	res, err := NewRateFetcher([]Source{first, second}, ChainOptions{Now: fixedNow}, zerolog.Nop()).
		FetchCurrentRates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", res.Source)
	assert.Equal(t, 0, second.calls)
}

func TestFetchTreatsEmptyAndInvalidAsFailures(t *testing.T) {
	empty := &stubSource{name: "empty", set: rates.RateSet{}}
	tooHigh := &stubSource{name: "too_high", set: rates.RateSet{rates.Term30: quote("0.2")}}
	future := &stubSource{name: "future", set: rates.RateSet{rates.Term30: {
		Rate: decimal.RequireFromString("0.06"),
		Date: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC),
	}}}
	good := &stubSource{name: "good", set: rates.RateSet{rates.Term15: quote("0.059")}}

	res, err := NewRateFetcher([]Source{empty, tooHigh, future, good}, ChainOptions{Now: fixedNow}, zerolog.Nop()).
		FetchCurrentRates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", res.Source)
}

func TestFetchAllSourcesFail(t *testing.T) {
	boom := errors.New("boom")
	sources := []Source{
		&stubSource{name: SourcePrimary, err: &rates.FetchError{Source: SourcePrimary, Err: boom}},
		&stubSource{name: SourceScraper, err: &rates.ParseError{Field: "rate", Value: "x"}},
		&stubSource{name: SourceHistorical, set: rates.RateSet{rates.Term30: quote("-0.01")}},
	}

	_, err := NewRateFetcher(sources, ChainOptions{Now: fixedNow}, zerolog.Nop()).FetchCurrentRates(context.Background())
	require.ErrorIs(t, err, rates.ErrNoSourceAvailable)
	assert.ErrorIs(t, err, boom)

	var noSource *rates.NoSourceError
	require.ErrorAs(t, err, &noSource)
	require.Len(t, noSource.Attempts, 3)
	var validationErr *rates.ValidationError
	assert.ErrorAs(t, noSource.Attempts[2].Err, &validationErr)
}

func TestHistoricalSource(t *testing.T) {
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "hist.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := NewHistorical(db)
	_, err = h.Fetch(context.Background())
	require.Error(t, err)

	_, _, err = db.Upsert(context.Background(), storage.RateWrite{
		Date:     time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC),
		RateType: rates.Term30.RateType(),
		Rate:     decimal.RequireFromString("0.0671"),
		Source:   SourcePrimary,
	})
	require.NoError(t, err)

	set, err := h.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{30: 0.0671}, set.Floats())
}
