package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/rates"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 9, cfg.Scheduler.DailyHour)
	assert.Equal(t, 0, cfg.Scheduler.DailyMinute)
	assert.Equal(t, 4*time.Hour, cfg.Scheduler.CheckInterval)
	assert.Equal(t, 24*time.Hour, cfg.Alerting.Cooldown)
	assert.Equal(t, 30*time.Second, cfg.Sources.Primary.Timeout)
	assert.Equal(t, PortfolioFile, cfg.Portfolio.Source)
	assert.Equal(t, "09:00", cfg.Scheduler.DailyAt())

	series, err := cfg.Sources.Primary.SeriesByTerm()
	require.NoError(t, err)
	assert.Equal(t, "MORTGAGE30US", series[rates.Term30])
	assert.Equal(t, "MORTGAGE15US", series[rates.Term15])

	// no api key by default
	assert.False(t, cfg.Sources.Primary.PrimaryActive())
	assert.False(t, cfg.Sources.Scraper.ScraperActive())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("RATEWATCH_SCHEDULER_DAILY_HOUR", "7")
	t.Setenv("RATEWATCH_SCHEDULER_DAILY_MINUTE", "30")
	t.Setenv("RATEWATCH_ALERTING_COOLDOWN", "12h")
	t.Setenv("RATEWATCH_SOURCES_PRIMARY_API_KEY", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "07:30", cfg.Scheduler.DailyAt())
	assert.Equal(t, 12*time.Hour, cfg.Alerting.Cooldown)
	assert.True(t, cfg.Sources.Primary.PrimaryActive())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratewatch.yaml")
	doc := `
database:
  driver: postgres
  dsn: postgres://localhost/ratewatch
portfolio:
  source: postgres
scheduler:
  timezone: America/New_York
  check_interval: 2h
sources:
  scraper:
    url: https://example.com/rates
    provider_href: /lenders/acme
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Scheduler.CheckInterval)
	assert.True(t, cfg.Sources.Scraper.ScraperActive())

	loc, err := cfg.Scheduler.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown driver":       func(c *Config) { c.Database.Driver = "mysql" },
		"postgres without dsn": func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.DSN = "" },
		"bad hour":             func(c *Config) { c.Scheduler.DailyHour = 24 },
		"zero interval":        func(c *Config) { c.Scheduler.CheckInterval = 0 },
		"bad timezone":         func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
		"zero cooldown":        func(c *Config) { c.Alerting.Cooldown = 0 },
		"webhook without url":  func(c *Config) { c.Alerting.Webhook.Enabled = true },
		"bad series term":      func(c *Config) { c.Sources.Primary.Series = map[string]string{"25": "X"} },
		"postgres portfolio":   func(c *Config) { c.Portfolio.Source = PortfolioPostgres },
		"unknown portfolio":    func(c *Config) { c.Portfolio.Source = "ldap" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseDailyAt(t *testing.T) {
	hour, minute, err := ParseDailyAt("06:45")
	require.NoError(t, err)
	assert.Equal(t, 6, hour)
	assert.Equal(t, 45, minute)

	for _, bad := range []string{"6", "24:00", "12:60", "ab:cd", ""} {
		_, _, err := ParseDailyAt(bad)
		assert.Error(t, err, bad)
	}
}
