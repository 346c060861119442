package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/alerting"
	"refi-rate-alerts/internal/config"
	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/storage"
)

const portfolioDoc = `
mortgages:
  - id: 1
    principal: 400000
    rate: 0.045
    term_months: 360
    remaining_principal: 400000
    remaining_term_months: 360
alerts:
  - id: 10
    mortgage_id: 1
    kind: rate
    target_rate: 0.04
    target_term_months: 360
`

func testConfig(t *testing.T, primaryURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	portfolioPath := filepath.Join(dir, "portfolio.yaml")
	require.NoError(t, os.WriteFile(portfolioPath, []byte(portfolioDoc), 0o600))

	cfg := &config.Config{}
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.SQLitePath = filepath.Join(dir, "ratewatch.db")
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.DailyHour = 9
	cfg.Scheduler.CheckInterval = 4 * time.Hour
	cfg.Scheduler.Timezone = "UTC"
	cfg.Sources.Primary = config.PrimaryConfig{
		Enabled: true,
		BaseURL: primaryURL,
		APIKey:  "k",
		Series:  map[string]string{"30": "MORTGAGE30US"},
		Timeout: time.Second,
	}
	cfg.Sources.Historical.Enabled = true
	cfg.Alerting.Cooldown = 24 * time.Hour
	cfg.Portfolio = config.PortfolioConfig{Source: config.PortfolioFile, File: portfolioPath}
	return cfg
}

func primaryServer(t *testing.T, value string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"observations":[{"date":"2026-01-08","value":"` + value + `"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUpdateRatesFiresOnceThenCoolsDown(t *testing.T) {
	srv := primaryServer(t, "3.80")
	a := NewApp(testConfig(t, srv.URL), zerolog.Nop())
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, a.UpdateRates(ctx, true, &out))
	assert.Contains(t, out.String(), "Updated 1 rates from primary_api")
	assert.Contains(t, out.String(), "Current 30-year rate: 3.800%")
	assert.Contains(t, out.String(), "Alerts triggered: 1")
	assert.Contains(t, out.String(), "30-year rate 3.800% <= target 4.000%")

	out.Reset()
	require.NoError(t, a.UpdateRates(ctx, false, &out))
	assert.Contains(t, out.String(), "Alerts triggered: 0 (evaluated 1, errors 0)")

	out.Reset()
	require.NoError(t, a.History(ctx, HistoryOptions{Term: rates.Term30, Since: time.Time{}}, &out))
	assert.Contains(t, out.String(), "3.800%")
	assert.Contains(t, out.String(), "primary_api")
}

func TestTestRateFetchDoesNotPersist(t *testing.T) {
	srv := primaryServer(t, "6.62")
	cfg := testConfig(t, srv.URL)
	a := NewApp(cfg, zerolog.Nop())

	var out bytes.Buffer
	require.NoError(t, a.TestRateFetch(context.Background(), &out))
	assert.Contains(t, out.String(), "source: primary_api")
	assert.Contains(t, out.String(), "6.620%")

	db, err := storage.NewSQLite(cfg.Database.SQLitePath)
	require.NoError(t, err)
	defer db.Close()
	latest, err := db.Latest(context.Background(), rates.Term30.RateType())
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestSchedulerStatusOutput(t *testing.T) {
	srv := primaryServer(t, "6.62")
	cfg := testConfig(t, srv.URL)
	a := NewApp(cfg, zerolog.Nop())

	var out bytes.Buffer
	require.NoError(t, a.SchedulerStatus(context.Background(), &out))
	assert.Contains(t, out.String(), "daily_rate_update")
	assert.Contains(t, out.String(), "every 4h0m0s")

	cfg.Scheduler.Enabled = false
	out.Reset()
	require.NoError(t, a.SchedulerStatus(context.Background(), &out))
	assert.Contains(t, out.String(), "Scheduler is disabled")
}

func TestSimulateAlertIsDryRunByDefault(t *testing.T) {
	srv := primaryServer(t, "6.62")
	cfg := testConfig(t, srv.URL)
	a := NewApp(cfg, zerolog.Nop())

	var out bytes.Buffer
	err := a.SimulateAlert(context.Background(), SimulateOptions{Rate: decimal.RequireFromString("0.035"), Term: rates.Term30}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "dry run")
	assert.Contains(t, out.String(), "Alerts met and allowed to fire: 1 of 1 evaluated")

	err = a.SimulateAlert(context.Background(), SimulateOptions{Rate: decimal.RequireFromString("1.5"), Term: rates.Term30}, &out)
	assert.Error(t, err)
}

type fakeRange map[time.Time]rates.RateSet

func (f fakeRange) FetchRange(context.Context, time.Time, time.Time) (map[time.Time]rates.RateSet, error) {
	return f, nil
}

func TestBackfillWritesInDateOrder(t *testing.T) {
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "backfill.db"))
	require.NoError(t, err)
	defer db.Close()

	d1 := time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 9, 11, 0, 0, 0, 0, time.UTC)
	src := fakeRange{
		d2: {rates.Term30: {Rate: decimal.RequireFromString("0.0635"), Date: d2}},
		d1: {
			rates.Term30: {Rate: decimal.RequireFromString("0.065"), Date: d1},
			rates.Term15: {Rate: decimal.RequireFromString("0.056"), Date: d1},
		},
	}

	written, days, err := backfill(context.Background(), src, db, BackfillOptions{From: d1, To: d2})
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, 2, days)

	latest, err := db.Latest(context.Background(), rates.Term30.RateType())
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.NotNil(t, latest.ChangeFromPrevious)
	assert.Equal(t, "-0.0015", latest.ChangeFromPrevious.String())

	written, _, err = backfill(context.Background(), src, nil, BackfillOptions{From: d1, To: d2})
	require.NoError(t, err)
	assert.Equal(t, 3, written)
}

func TestExportFrontierCSV(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	path := filepath.Join(t.TempDir(), "out", "frontier.csv")

	err := a.ExportFrontier(ExportOptions{Principal: 300000, Rate: 0.06, TermMonths: 120, RefiCost: 3000, CSVPath: path})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 122)
	assert.Equal(t, []string{"month", "remaining_principal", "interest_paid", "break_even_rate", "feasible"}, records[0])
	assert.Equal(t, "0", records[1][0])
	assert.Equal(t, "300000.00", records[1][1])
	assert.Equal(t, "120", records[121][0])
	assert.Equal(t, "false", records[121][4])

	assert.Error(t, a.ExportFrontier(ExportOptions{Principal: 1}))
}

func TestDownsampleKeepsEnds(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, []int{0, 3, 6, 9}, downsample(items, 4))
	assert.Equal(t, items, downsample(items, 0))
}

func TestNewNotifierCombinations(t *testing.T) {
	cfg := &config.Config{}
	a := NewApp(cfg, zerolog.Nop())
	assert.Nil(t, a.newNotifier())

	cfg.Alerting.Webhook = config.WebhookConfig{Enabled: true, URL: "http://example.invalid", Timeout: time.Second}
	_, ok := a.newNotifier().(*alerting.WebhookNotifier)
	assert.True(t, ok)

	cfg.Alerting.Telegram = config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c"}
	multi, ok := a.newNotifier().(alerting.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

func TestFormatChange(t *testing.T) {
	up := decimal.RequireFromString("0.00125")
	down := decimal.RequireFromString("-0.0005")
	assert.Equal(t, "+12.5bp", formatChange(storage.RateSnapshot{ChangeFromPrevious: &up}))
	assert.Equal(t, "-5.0bp", formatChange(storage.RateSnapshot{ChangeFromPrevious: &down}))
	assert.Equal(t, "-", formatChange(storage.RateSnapshot{}))
}
