// Package ledger records alert triggers and enforces the per-alert cooldown.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/alerting"
	"refi-rate-alerts/internal/lock"
	"refi-rate-alerts/internal/metrics"
	"refi-rate-alerts/internal/portfolio"
	"refi-rate-alerts/internal/rates"
	"refi-rate-alerts/internal/storage"
)

// DefaultCooldown is the minimum spacing of two triggers for one alert.
const DefaultCooldown = 24 * time.Hour

// Options parameterise a Ledger.
type Options struct {
	Cooldown time.Duration
	Now      func() time.Time
}

// Event describes a met alert condition.
type Event struct {
	Alert            portfolio.Alert
	Mortgage         portfolio.Mortgage
	Term             rates.Term
	Reason           string
	Rate             decimal.Decimal
	PotentialPayment *decimal.Decimal
}

// Ledger is the only writer of triggers.
type Ledger struct {
	store    storage.TriggerStore
	locker   lock.Locker
	notifier alerting.Notifier
	opts     Options
	logger   zerolog.Logger
}

// New wires a ledger. A nil locker defaults to an in-process one; a nil
// notifier disables delivery.
func New(store storage.TriggerStore, locker lock.Locker, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Ledger {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if locker == nil {
		locker = lock.NewKeyed()
	}
	return &Ledger{
		store:    store,
		locker:   locker,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "trigger_ledger").Logger(),
	}
}

// Cooldown returns the effective window.
func (l *Ledger) Cooldown() time.Duration { return l.opts.Cooldown }

// ShouldFire is false while the alert's last trigger is inside the window.
func (l *Ledger) ShouldFire(ctx context.Context, alertID int64) (bool, error) {
	last, err := l.store.LastTrigger(ctx, alertID)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return !last.FiredAt.After(l.opts.Now().Add(-l.opts.Cooldown)), nil
}

// Record stores a trigger for ev unless the alert is cooling down, in which
// case it returns nil without error. A stored trigger is handed to the
// notifier; delivery failures are logged and do not undo the trigger.
func (l *Ledger) Record(ctx context.Context, ev Event) (*storage.Trigger, error) {
	unlock, err := l.locker.Lock(ctx, fmt.Sprintf("alert:%d", ev.Alert.ID))
	if err != nil {
		return nil, fmt.Errorf("lock alert %d: %w", ev.Alert.ID, err)
	}

	trig := storage.Trigger{
		ID:            uuid.New(),
		AlertID:       ev.Alert.ID,
		FiredAt:       l.opts.Now().UTC().Truncate(time.Microsecond),
		Reason:        ev.Reason,
		RateAtTrigger: ev.Rate,
	}
	inserted, err := l.store.InsertIfCooledDown(ctx, trig, l.opts.Cooldown)
	unlock()
	if err != nil {
		return nil, err
	}
	if !inserted {
		l.logger.Debug().Int64("alert_id", ev.Alert.ID).Msg("alert cooling down, trigger suppressed")
		return nil, nil
	}

	metrics.IncTriggerFired()
	l.logger.Info().
		Int64("alert_id", ev.Alert.ID).
		Str("trigger_id", trig.ID.String()).
		Str("rate", ev.Rate.String()).
		Str("reason", ev.Reason).
		Msg("trigger recorded")

	l.notify(ctx, trig, ev)
	return &trig, nil
}

func (l *Ledger) notify(ctx context.Context, trig storage.Trigger, ev Event) {
	if l.notifier == nil {
		return
	}
	err := l.notifier.Notify(ctx, alerting.Notification{
		Trigger:          trig,
		Alert:            ev.Alert,
		Mortgage:         ev.Mortgage,
		Term:             ev.Term,
		PotentialPayment: ev.PotentialPayment,
	})
	if err != nil {
		metrics.IncNotification(metrics.ResultError)
		l.logger.Error().Err(err).Int64("alert_id", ev.Alert.ID).Str("trigger_id", trig.ID.String()).
			Msg("notification failed, trigger kept")
		return
	}
	metrics.IncNotification(metrics.ResultSuccess)
}
