package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/version"
)

const observationsPath = "/series/observations"

// PrimaryOptions parameterise the observations API source.
type PrimaryOptions struct {
	BaseURL   string
	APIKey    string
	Series    map[rates.Term]string
	Timeout   time.Duration
	UserAgent string
}

// PrimaryAPI reads the latest weekly observation of one series per term.
type PrimaryAPI struct {
	opts    PrimaryOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewPrimaryAPI constructs the primary source.
func NewPrimaryAPI(opts PrimaryOptions, logger zerolog.Logger) *PrimaryAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.stlouisfed.org/fred"
	}

	return &PrimaryAPI{
		opts:    opts,
		logger:  logger.With().Str("component", "primary_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name implements Source.
func (p *PrimaryAPI) Name() string { return SourcePrimary }

// Fetch queries every configured series. Series whose latest value is
// missing are left out of the set.
func (p *PrimaryAPI) Fetch(ctx context.Context) (rates.RateSet, error) {
	if p.opts.APIKey == "" {
		return nil, &rates.FetchError{Source: SourcePrimary, Err: errors.New("api key not configured")}
	}
	if len(p.opts.Series) == 0 {
		return nil, &rates.FetchError{Source: SourcePrimary, Err: errors.New("no series configured")}
	}

	terms := make([]rates.Term, 0, len(p.opts.Series))
	for term := range p.opts.Series {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i] > terms[j] })

	set := make(rates.RateSet, len(terms))
	for _, term := range terms {
		quote, ok, err := p.fetchSeries(ctx, p.opts.Series[term])
		if err != nil {
			return nil, err
		}
		if !ok {
			p.logger.Warn().Str("series", p.opts.Series[term]).Msg("latest observation missing")
			continue
		}
		set[term] = quote
	}
	return set, nil
}

func (p *PrimaryAPI) fetchSeries(ctx context.Context, seriesID string) (rates.Quote, bool, error) {
	query := url.Values{}
	query.Set("sort_order", "desc")
	query.Set("limit", "1")

	observations, err := p.observations(ctx, seriesID, query)
	if err != nil {
		return rates.Quote{}, false, err
	}
	if len(observations) == 0 {
		return rates.Quote{}, false, nil
	}
	return observations[0].quote()
}

// FetchRange returns every observation dated within [from, to] grouped by
// date, for backfilling the store. Missing values are skipped.
func (p *PrimaryAPI) FetchRange(ctx context.Context, from, to time.Time) (map[time.Time]rates.RateSet, error) {
	if p.opts.APIKey == "" {
		return nil, &rates.FetchError{Source: SourcePrimary, Err: errors.New("api key not configured")}
	}

	query := url.Values{}
	query.Set("sort_order", "asc")
	query.Set("observation_start", from.Format("2006-01-02"))
	query.Set("observation_end", to.Format("2006-01-02"))

	out := make(map[time.Time]rates.RateSet)
	for term, seriesID := range p.opts.Series {
		observations, err := p.observations(ctx, seriesID, query)
		if err != nil {
			return nil, err
		}
		for _, obs := range observations {
			quote, ok, err := obs.quote()
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			set, exists := out[quote.Date]
			if !exists {
				set = make(rates.RateSet)
				out[quote.Date] = set
			}
			set[term] = quote
		}
	}
	return out, nil
}

func (p *PrimaryAPI) observations(ctx context.Context, seriesID string, extra url.Values) ([]observation, error) {
	query := url.Values{}
	for k, v := range extra {
		query[k] = v
	}
	query.Set("series_id", seriesID)
	query.Set("api_key", p.opts.APIKey)
	query.Set("file_type", "json")

	endpoint := p.baseURL + observationsPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &rates.FetchError{Source: SourcePrimary, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(p.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &rates.FetchError{Source: SourcePrimary, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &rates.FetchError{Source: SourcePrimary, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &rates.FetchError{Source: SourcePrimary, Err: parseHTTPError(resp.StatusCode, payload)}
	}

	var res observationsResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, &rates.ParseError{Field: "body", Value: seriesID, Err: err}
	}
	return res.Observations, nil
}

type observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// quote converts the observation; "." marks a missing value.
func (o observation) quote() (rates.Quote, bool, error) {
	value := strings.TrimSpace(o.Value)
	if value == "" || value == "." {
		return rates.Quote{}, false, nil
	}

	rate, err := percentToRate("rate", value)
	if err != nil {
		return rates.Quote{}, false, err
	}
	date, err := time.Parse("2006-01-02", o.Date)
	if err != nil {
		return rates.Quote{}, false, &rates.ParseError{Field: "date", Value: o.Date, Err: err}
	}
	return rates.Quote{Rate: rate, Date: date}, true, nil
}

type observationsResponse struct {
	Observations []observation `json:"observations"`
}

type errorResponse struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.ErrorMessage != "" {
		return fmt.Errorf("rate api error (%d): %s", status, apiErr.ErrorMessage)
	}
	if len(payload) > 0 {
		return fmt.Errorf("rate api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("rate api error (%d)", status)
}

var _ Source = (*PrimaryAPI)(nil)
