package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/alerting"
	"refi-rate-alerts/internal/config"
	"refi-rate-alerts/internal/fetcher"
	"refi-rate-alerts/internal/httpapi"
	"refi-rate-alerts/internal/ledger"
	"refi-rate-alerts/internal/lock"
	"refi-rate-alerts/internal/metrics"
	"refi-rate-alerts/internal/portfolio"
	"refi-rate-alerts/internal/scheduler"
	"refi-rate-alerts/internal/service"
	"refi-rate-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	metrics.Init()
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// backend is what both storage drivers provide.
type backend interface {
	storage.RateStore
	storage.TriggerStore
	storage.AdvisoryLocker
}

var (
	_ backend = (*storage.Store)(nil)
	_ backend = (*storage.SQLite)(nil)
)

func (a *App) openStore(ctx context.Context) (backend, func(), error) {
	switch a.Config.Database.Driver {
	case config.DriverPostgres:
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return store, store.Close, nil

	case config.DriverSQLite:
		db, err := storage.NewSQLite(a.Config.Database.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("database.driver %q is not supported", a.Config.Database.Driver)
}

func (a *App) openPortfolio(store backend) (portfolio.MortgageRepository, portfolio.AlertRepository, error) {
	switch a.Config.Portfolio.Source {
	case config.PortfolioPostgres:
		pg, ok := store.(*storage.Store)
		if !ok {
			return nil, nil, errors.New("portfolio.source=postgres requires the postgres driver")
		}
		return pg, pg, nil
	case config.PortfolioFile:
		repo, err := portfolio.NewFileRepository(a.Config.Portfolio.File)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	}
	return nil, nil, fmt.Errorf("portfolio.source %q is not supported", a.Config.Portfolio.Source)
}

// newSources builds the fallback chain in order: primary API, scraper, stored
// history. Sources that are disabled or lack settings are left out.
func (a *App) newSources(store storage.RateStore) ([]fetcher.Source, error) {
	cfg := a.Config.Sources
	sources := make([]fetcher.Source, 0, 3)

	if primary, err := a.newPrimary(); err != nil {
		return nil, err
	} else if primary != nil {
		sources = append(sources, primary)
	}

	if cfg.Scraper.ScraperActive() {
		sources = append(sources, fetcher.NewWebScrapeSource(fetcher.ScraperOptions{
			URL:          cfg.Scraper.URL,
			ProviderHref: cfg.Scraper.ProviderHref,
			UserAgent:    cfg.Scraper.UserAgent,
			Timeout:      cfg.Scraper.Timeout,
		}, a.Logger))
	} else {
		a.Logger.Debug().Msg("scraper source inactive")
	}

	if cfg.Historical.Enabled {
		sources = append(sources, fetcher.NewHistorical(store))
	}
	return sources, nil
}

func (a *App) newPrimary() (*fetcher.PrimaryAPI, error) {
	cfg := a.Config.Sources.Primary
	if !cfg.PrimaryActive() {
		a.Logger.Debug().Msg("primary source inactive")
		return nil, nil
	}
	series, err := cfg.SeriesByTerm()
	if err != nil {
		return nil, err
	}
	return fetcher.NewPrimaryAPI(fetcher.PrimaryOptions{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Series:  series,
		Timeout: cfg.Timeout,
	}, a.Logger), nil
}

func (a *App) newRateFetcher(store storage.RateStore) (*fetcher.RateFetcher, error) {
	sources, err := a.newSources(store)
	if err != nil {
		return nil, err
	}
	loc, err := a.Config.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	maxRate := fetcher.DefaultMaxRate
	if a.Config.Sources.Scraper.MaxRate > 0 {
		maxRate = decimal.NewFromFloat(a.Config.Sources.Scraper.MaxRate)
	}
	return fetcher.NewRateFetcher(sources, fetcher.ChainOptions{MaxRate: maxRate, Location: loc}, a.Logger), nil
}

func (a *App) newNotifier() alerting.Notifier {
	var notifiers alerting.Multi
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if a.Config.Alerting.Webhook.Enabled {
		cfg := a.Config.Alerting.Webhook
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.URL, cfg.Secret, cfg.Timeout, a.Logger))
	}
	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	}
	return notifiers
}

func (a *App) newLocker(ctx context.Context) (lock.Locker, func(), error) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return lock.NewKeyed(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return lock.NewRedis(client, lock.RedisOptions{TTL: cfg.LockTTL}), func() { _ = client.Close() }, nil
}

// runtime is one fully wired service plus its cleanup.
type runtime struct {
	store   backend
	service *service.Service
	ledger  *ledger.Ledger
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) buildRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, closeStore)

	mortgages, alerts, err := a.openPortfolio(store)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rateFetcher, err := a.newRateFetcher(store)
	if err != nil {
		rt.Close()
		return nil, err
	}

	locker, closeLocker, err := a.newLocker(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeLocker)

	loc, err := a.Config.Scheduler.Location()
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.ledger = ledger.New(store, locker, a.newNotifier(), ledger.Options{Cooldown: a.Config.Alerting.Cooldown}, a.Logger)
	rt.service = service.New(rateFetcher, store, mortgages, alerts, rt.ledger, service.Options{
		Location:        loc,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)
	return rt, nil
}

func (a *App) newScheduler(runner scheduler.Runner) (*scheduler.Scheduler, error) {
	loc, err := a.Config.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	return scheduler.New(runner, scheduler.Options{
		DailyHour:     a.Config.Scheduler.DailyHour,
		DailyMinute:   a.Config.Scheduler.DailyMinute,
		CheckInterval: a.Config.Scheduler.CheckInterval,
		Location:      loc,
	}, a.Logger)
}

// Run executes the long-running monitoring service: scheduler plus admin API
// until SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	var jobs httpapi.JobRunner
	if a.Config.Scheduler.Enabled {
		sched, err := a.newScheduler(rt.service)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
		jobs = sched
	} else {
		a.Logger.Warn().Msg("scheduler disabled; only manual runs are possible")
	}

	a.Logger.Info().Msg("starting monitoring service")

	var serveErr error
	if a.Config.HTTP.Enabled {
		srv := httpapi.NewServer(httpapi.Options{Listen: a.Config.HTTP.Listen}, jobs, rt.service, a.Logger)
		serveErr = srv.Run(ctx)
	} else {
		<-ctx.Done()
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		a.Logger.Error().Err(serveErr).Msg("service terminated with error")
		return serveErr
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}
