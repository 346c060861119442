package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/service"
)

type fakeRunner struct {
	mu     sync.Mutex
	full   int
	checks int
	err    error
}

func (f *fakeRunner) RunFullCycle(context.Context) (service.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.full++
	return service.Summary{RatesUpdated: 2, AlertsTriggered: 1}, f.err
}

func (f *fakeRunner) RunAlertCheck(context.Context) (service.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return service.Summary{AlertsEvaluated: 3}, nil
}

func fixedNow() time.Time { return time.Date(2026, 10, 16, 10, 30, 0, 0, time.UTC) }

func newTestScheduler(t *testing.T, runner Runner) *Scheduler {
	t.Helper()
	s, err := New(runner, Options{
		DailyHour:     9,
		DailyMinute:   0,
		CheckInterval: 4 * time.Hour,
		Location:      time.UTC,
		Now:           fixedNow,
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNextDaily(t *testing.T) {
	loc := time.UTC
	before := time.Date(2026, 10, 16, 8, 59, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 16, 9, 0, 0, 0, loc), nextDaily(before, 9, 0, loc))

	exact := time.Date(2026, 10, 16, 9, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 17, 9, 0, 0, 0, loc), nextDaily(exact, 9, 0, loc))
}

func TestNextDailyHonoursLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 12:00 UTC is 08:00 in New York during daylight saving time
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	next := nextDaily(now, 9, 0, ny)
	assert.Equal(t, time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC), next.UTC())
}

func TestStatusBeforeStart(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{})
	status := s.Status()
	require.Len(t, status, 2)

	assert.Equal(t, JobDailyUpdate, status[0].JobID)
	assert.Equal(t, time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), status[0].NextRun)
	assert.Contains(t, status[0].Description, "09:00")

	assert.Equal(t, JobAlertCheck, status[1].JobID)
	assert.Equal(t, fixedNow().Add(4*time.Hour), status[1].NextRun)
	assert.Equal(t, "every 4h0m0s", status[1].Description)
	assert.False(t, s.Running())
}

func TestRunNowIsSynchronous(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestScheduler(t, runner)

	summary, err := s.RunNow(context.Background(), JobDailyUpdate)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.RatesUpdated)
	assert.Equal(t, 1, runner.full)

	summary, err = s.RunNow(context.Background(), JobAlertCheck)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.AlertsEvaluated)
	assert.Equal(t, 1, runner.checks)

	_, err = s.RunNow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestFailedRunIsReportedAndSchedulerStaysUsable(t *testing.T) {
	runner := &fakeRunner{err: &rates.NoSourceError{}}
	s := newTestScheduler(t, runner)

	_, err := s.RunNow(context.Background(), JobDailyUpdate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rates.ErrNoSourceAvailable))

	status := s.Status()
	assert.Equal(t, fixedNow(), status[0].LastRun)
	assert.Contains(t, status[0].LastError, "no rate source available")

	runner.err = nil
	_, err = s.RunNow(context.Background(), JobDailyUpdate)
	require.NoError(t, err)
	assert.Empty(t, s.Status()[0].LastError)
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, &fakeRunner{})
	s.Start(context.Background())
	assert.True(t, s.Running())

	status := s.Status()
	require.Len(t, status, 2)
	for _, st := range status {
		assert.False(t, st.NextRun.IsZero(), st.JobID)
	}

	s.Stop()
	assert.False(t, s.Running())
	s.Stop()
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(&fakeRunner{}, Options{CheckInterval: 0}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(&fakeRunner{}, Options{CheckInterval: time.Hour, DailyHour: 24}, zerolog.Nop())
	assert.Error(t, err)
}
