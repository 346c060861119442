// Package scheduler arms the daily rate cycle and the periodic alert check.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"refi-rate-alerts/internal/service"
)

// Job names double as gocron tags.
const (
	JobDailyUpdate = "daily_rate_update"
	JobAlertCheck  = "alert_check"
)

// ErrUnknownJob is returned by RunNow for a name that is not registered.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// Runner executes the cycles the scheduler dispatches.
type Runner interface {
	RunFullCycle(ctx context.Context) (service.Summary, error)
	RunAlertCheck(ctx context.Context) (service.Summary, error)
}

// Options tune scheduler behaviour.
type Options struct {
	DailyHour     int
	DailyMinute   int
	CheckInterval time.Duration
	Location      *time.Location
	Now           func() time.Time
}

// JobStatus describes one armed job.
type JobStatus struct {
	JobID       string    `json:"job_id"`
	Name        string    `json:"name"`
	NextRun     time.Time `json:"next_run_time"`
	Description string    `json:"schedule_description"`
	LastRun     time.Time `json:"last_run_time,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

type jobDef struct {
	id          string
	name        string
	description string
	run         func(ctx context.Context) (service.Summary, error)
}

type lastRun struct {
	at  time.Time
	err error
}

// Scheduler owns the gocron instance and its jobs.
type Scheduler struct {
	cron   *gocron.Scheduler
	runner Runner
	opts   Options
	jobs   []jobDef
	logger zerolog.Logger

	mu       sync.Mutex
	baseCtx  context.Context
	cancel   context.CancelFunc
	running  bool
	last     map[string]lastRun
	jobLocks map[string]*sync.Mutex
}

// New builds a stopped scheduler with both jobs registered.
func New(runner Runner, opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.CheckInterval <= 0 {
		return nil, fmt.Errorf("scheduler check interval must be positive")
	}
	if opts.DailyHour < 0 || opts.DailyHour > 23 || opts.DailyMinute < 0 || opts.DailyMinute > 59 {
		return nil, fmt.Errorf("invalid daily time %02d:%02d", opts.DailyHour, opts.DailyMinute)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cron := gocron.NewScheduler(opts.Location)
	cron.SingletonModeAll()

	s := &Scheduler{
		cron:     cron,
		runner:   runner,
		opts:     opts,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		baseCtx:  context.Background(),
		last:     make(map[string]lastRun),
		jobLocks: make(map[string]*sync.Mutex),
	}
	s.jobs = []jobDef{
		{
			id:          JobDailyUpdate,
			name:        "Daily rate update and alert evaluation",
			description: fmt.Sprintf("daily at %s %s", s.dailyAt(), opts.Location),
			run:         runner.RunFullCycle,
		},
		{
			id:          JobAlertCheck,
			name:        "Periodic alert check",
			description: fmt.Sprintf("every %s", opts.CheckInterval),
			run:         runner.RunAlertCheck,
		},
	}
	for _, job := range s.jobs {
		s.jobLocks[job.id] = &sync.Mutex{}
	}

	if _, err := cron.Every(1).Day().At(s.dailyAt()).Tag(JobDailyUpdate).Name(JobDailyUpdate).
		Do(s.dispatch, JobDailyUpdate); err != nil {
		return nil, fmt.Errorf("register %s: %w", JobDailyUpdate, err)
	}
	if _, err := cron.Every(opts.CheckInterval).WaitForSchedule().Tag(JobAlertCheck).Name(JobAlertCheck).
		Do(s.dispatch, JobAlertCheck); err != nil {
		return nil, fmt.Errorf("register %s: %w", JobAlertCheck, err)
	}
	return s, nil
}

// Start arms the jobs. Cancelling ctx is passed on to in-flight cycles.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.cron.StartAsync()
	s.running = true
	s.logger.Info().Str("daily_at", s.dailyAt()).Dur("check_interval", s.opts.CheckInterval).Msg("scheduler started")
}

// Stop disarms the jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	s.cron.Stop()
	// wait for in-flight runs
	for _, l := range s.jobLocks {
		l.Lock()
		l.Unlock()
	}
	if cancel != nil {
		cancel()
	}
	s.logger.Info().Msg("scheduler stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow executes one job synchronously on the caller's goroutine. It waits
// for a scheduled run of the same job to finish first.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) (service.Summary, error) {
	job, ok := s.lookup(jobID)
	if !ok {
		return service.Summary{}, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return s.execute(ctx, job)
}

// Status lists the jobs with their next run time. Before Start the next run
// is derived from the schedule.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	running := s.running
	last := make(map[string]lastRun, len(s.last))
	for k, v := range s.last {
		last[k] = v
	}
	s.mu.Unlock()

	next := make(map[string]time.Time, len(s.jobs))
	if running {
		for _, j := range s.cron.Jobs() {
			next[j.GetName()] = j.NextRun()
		}
	}

	now := s.opts.Now()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		status := JobStatus{JobID: job.id, Name: job.name, Description: job.description, NextRun: next[job.id]}
		if status.NextRun.IsZero() {
			status.NextRun = s.computeNext(job.id, now)
		}
		if lr, ok := last[job.id]; ok {
			status.LastRun = lr.at
			if lr.err != nil {
				status.LastError = lr.err.Error()
			}
		}
		out = append(out, status)
	}
	return out
}

func (s *Scheduler) dispatch(jobID string) {
	job, ok := s.lookup(jobID)
	if !ok {
		return
	}
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.logger.Info().Str("job", jobID).Msg("executing scheduled job")
	// Errors are already recorded; the job stays armed for its next run.
	_, _ = s.execute(ctx, job)
}

func (s *Scheduler) execute(ctx context.Context, job jobDef) (service.Summary, error) {
	l := s.jobLocks[job.id]
	l.Lock()
	defer l.Unlock()

	summary, err := job.run(ctx)

	s.mu.Lock()
	s.last[job.id] = lastRun{at: s.opts.Now(), err: err}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("job", job.id).Msg("job failed, will retry at next schedule")
	}
	return summary, err
}

func (s *Scheduler) lookup(jobID string) (jobDef, bool) {
	for _, job := range s.jobs {
		if job.id == jobID {
			return job, true
		}
	}
	return jobDef{}, false
}

func (s *Scheduler) dailyAt() string {
	return fmt.Sprintf("%02d:%02d", s.opts.DailyHour, s.opts.DailyMinute)
}

func (s *Scheduler) computeNext(jobID string, now time.Time) time.Time {
	switch jobID {
	case JobDailyUpdate:
		return nextDaily(now, s.opts.DailyHour, s.opts.DailyMinute, s.opts.Location)
	case JobAlertCheck:
		return now.In(s.opts.Location).Add(s.opts.CheckInterval)
	}
	return time.Time{}
}

// nextDaily returns the first hour:minute in loc strictly after now.
func nextDaily(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
