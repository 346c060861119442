package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"refi-rate-alerts/internal/logging"
	"refi-rate-alerts/internal/rates"
)

// EnvPrefix namespaces environment overrides, e.g. RATEWATCH_DATABASE_DSN.
const EnvPrefix = "RATEWATCH"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects and tunes the rate/trigger store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the distributed per-alert lock. Empty Addr keeps locks
// in process.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// SchedulerConfig governs the daily cycle and the periodic alert check.
type SchedulerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DailyHour       int           `mapstructure:"daily_hour"`
	DailyMinute     int           `mapstructure:"daily_minute"`
	CheckInterval   time.Duration `mapstructure:"check_interval"`
	Timezone        string        `mapstructure:"timezone"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// Location resolves Timezone; empty means the process local zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// SourcesConfig lists the rate sources in fallback order.
type SourcesConfig struct {
	Primary    PrimaryConfig    `mapstructure:"primary"`
	Scraper    ScraperConfig    `mapstructure:"scraper"`
	Historical HistoricalConfig `mapstructure:"historical"`
}

// PrimaryConfig points at a FRED-style observations API.
type PrimaryConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	BaseURL string            `mapstructure:"base_url"`
	APIKey  string            `mapstructure:"api_key"`
	Series  map[string]string `mapstructure:"series"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// SeriesByTerm parses the term keys of Series.
func (p PrimaryConfig) SeriesByTerm() (map[rates.Term]string, error) {
	out := make(map[rates.Term]string, len(p.Series))
	for key, id := range p.Series {
		term, err := rates.ParseTerm(key)
		if err != nil {
			return nil, fmt.Errorf("sources.primary.series: %w", err)
		}
		out[term] = id
	}
	return out, nil
}

// ScraperConfig describes the rates page.
type ScraperConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	ProviderHref string        `mapstructure:"provider_href"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRate      float64       `mapstructure:"max_rate"`
}

// HistoricalConfig toggles the stored-rate fallback.
type HistoricalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AlertingConfig defines cooldown and notification routing.
type AlertingConfig struct {
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig posts trigger payloads to an HTTP endpoint.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Portfolio sources.
const (
	PortfolioPostgres = "postgres"
	PortfolioFile     = "file"
)

// PortfolioConfig selects where mortgages and alerts are read from.
type PortfolioConfig struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

// HTTPConfig controls the admin API started by `run`.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ratewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "ratewatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "30s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.daily_hour", 9)
	v.SetDefault("scheduler.daily_minute", 0)
	v.SetDefault("scheduler.check_interval", "4h")
	v.SetDefault("scheduler.timezone", "")
	v.SetDefault("scheduler.advisory_lock_key", int64(0))

	v.SetDefault("sources.primary.enabled", true)
	v.SetDefault("sources.primary.base_url", "https://api.stlouisfed.org/fred")
	v.SetDefault("sources.primary.api_key", "")
	v.SetDefault("sources.primary.series", map[string]string{
		"30": "MORTGAGE30US",
		"15": "MORTGAGE15US",
	})
	v.SetDefault("sources.primary.timeout", "30s")

	v.SetDefault("sources.scraper.enabled", true)
	v.SetDefault("sources.scraper.url", "")
	v.SetDefault("sources.scraper.provider_href", "")
	v.SetDefault("sources.scraper.user_agent", "")
	v.SetDefault("sources.scraper.timeout", "30s")
	v.SetDefault("sources.scraper.max_rate", 0.15)

	v.SetDefault("sources.historical.enabled", true)

	v.SetDefault("alerting.cooldown", "24h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.webhook.enabled", false)
	v.SetDefault("alerting.webhook.url", "")
	v.SetDefault("alerting.webhook.secret", "")
	v.SetDefault("alerting.webhook.timeout", "10s")

	v.SetDefault("portfolio.source", PortfolioFile)
	v.SetDefault("portfolio.file", "portfolio.yaml")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen", ":8080")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	if c.Scheduler.DailyHour < 0 || c.Scheduler.DailyHour > 23 {
		return fmt.Errorf("scheduler.daily_hour must be within 0-23")
	}
	if c.Scheduler.DailyMinute < 0 || c.Scheduler.DailyMinute > 59 {
		return fmt.Errorf("scheduler.daily_minute must be within 0-59")
	}
	if c.Scheduler.CheckInterval <= 0 {
		return fmt.Errorf("scheduler.check_interval must be greater than zero")
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}

	if c.Alerting.Cooldown <= 0 {
		return fmt.Errorf("alerting.cooldown must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url 必须配置")
	}

	if _, err := c.Sources.Primary.SeriesByTerm(); err != nil {
		return err
	}
	if c.Sources.Scraper.MaxRate <= 0 {
		return fmt.Errorf("sources.scraper.max_rate must be greater than zero")
	}
	if c.Sources.Primary.Timeout <= 0 || c.Sources.Scraper.Timeout <= 0 {
		return fmt.Errorf("source timeouts must be greater than zero")
	}

	switch c.Portfolio.Source {
	case PortfolioPostgres:
		if c.Database.Driver != DriverPostgres {
			return fmt.Errorf("portfolio.source=postgres requires database.driver=postgres")
		}
	case PortfolioFile:
		if c.Portfolio.File == "" {
			return fmt.Errorf("portfolio.file is required when portfolio.source=file")
		}
	default:
		return fmt.Errorf("portfolio.source %q is not supported", c.Portfolio.Source)
	}
	return nil
}

// DailyAt renders the daily run time as HH:MM.
func (s SchedulerConfig) DailyAt() string {
	return fmt.Sprintf("%02d:%02d", s.DailyHour, s.DailyMinute)
}

// PrimaryActive reports whether the primary source can be queried.
func (p PrimaryConfig) PrimaryActive() bool {
	return p.Enabled && p.APIKey != "" && p.BaseURL != ""
}

// ScraperActive reports whether the scraper has a page to read.
func (s ScraperConfig) ScraperActive() bool {
	return s.Enabled && s.URL != "" && s.ProviderHref != ""
}

// ParseDailyAt parses an HH:MM override such as a --at flag.
func ParseDailyAt(value string) (hour, minute int, err error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time %q must be HH:MM", value)
	}
	if hour, err = strconv.Atoi(parts[0]); err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour in %q must be within 0-23", value)
	}
	if minute, err = strconv.Atoi(parts[1]); err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute in %q must be within 0-59", value)
	}
	return hour, minute, nil
}
