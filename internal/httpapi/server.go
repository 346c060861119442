// Package httpapi exposes the admin HTTP surface: health, scheduler status,
// manual runs, latest rates and prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/scheduler"
	"refi-rate-alerts/internal/service"
)

// JobRunner is the scheduler as seen by the API.
type JobRunner interface {
	Status() []scheduler.JobStatus
	RunNow(ctx context.Context, jobID string) (service.Summary, error)
}

// RatesReader loads the newest stored quote per term.
type RatesReader interface {
	LatestRates(ctx context.Context) (rates.RateSet, error)
}

// Options configure the server.
type Options struct {
	Listen string
}

// Server wraps a gin engine.
type Server struct {
	engine *gin.Engine
	jobs   JobRunner
	rates  RatesReader
	opts   Options
	logger zerolog.Logger
}

// NewServer registers the routes. A nil jobs means scheduling is disabled.
func NewServer(opts Options, jobs JobRunner, reader RatesReader, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine: gin.New(),
		jobs:   jobs,
		rates:  reader,
		opts:   opts,
		logger: logger.With().Str("component", "httpapi").Logger(),
	}
	s.engine.Use(gin.Recovery(), s.accessLog())

	s.engine.GET("/healthz", s.health)
	s.engine.GET("/scheduler/status", s.schedulerStatus)
	s.engine.POST("/scheduler/run", s.runJob)
	s.engine.GET("/rates/latest", s.latestRates)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.opts.Listen).Msg("admin api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) schedulerStatus(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "message": "scheduler is disabled", "jobs": []scheduler.JobStatus{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "jobs": s.jobs.Status()})
}

// runJob handles POST /scheduler/run?job=<id>; the default job is the full
// daily cycle.
func (s *Server) runJob(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler is disabled"})
		return
	}
	jobID := c.DefaultQuery("job", scheduler.JobDailyUpdate)

	summary, err := s.jobs.RunNow(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, rates.ErrNoSourceAvailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "summary": summaryBody(summary)})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summaryBody(summary)})
	default:
		c.JSON(http.StatusOK, summaryBody(summary))
	}
}

func (s *Server) latestRates(c *gin.Context) {
	set, err := s.rates.LatestRates(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("load latest rates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]gin.H, 0, set.Len())
	for _, term := range set.Terms() {
		q := set[term]
		items = append(items, gin.H{
			"term_years": term.Years(),
			"rate_type":  term.RateType(),
			"rate":       q.Rate.String(),
			"points":     optional(q.Points),
			"apr":        optional(q.APR),
			"change":     optional(q.Change),
			"date":       q.Date.Format("2006-01-02"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rates": items})
}

func summaryBody(s service.Summary) gin.H {
	return gin.H{
		"rates_updated":    s.RatesUpdated,
		"alerts_evaluated": s.AlertsEvaluated,
		"alerts_triggered": s.AlertsTriggered,
		"errors":           s.Errors,
		"primary_rate":     optional(s.PrimaryRate),
		"source":           s.Source,
		"skipped":          s.Skipped,
	}
}

func optional(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
