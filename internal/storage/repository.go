package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// PersistenceError wraps a storage failure; the operation it names was not
// committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

const (
	snapshotColumns = `id, date, rate_type, rate::text, points::text, apr::text,
        change_from_previous::text, source, created_at, updated_at`

	upsertRateSQL = `INSERT INTO rate_snapshots (
        date,
        rate_type,
        rate,
        points,
        apr,
        change_from_previous,
        source
    ) VALUES (
        $1, $2, $3::numeric, $4::numeric, $5::numeric,
        $3::numeric - (
            SELECT prev.rate
            FROM rate_snapshots prev
            WHERE prev.rate_type = $2
              AND prev.date < $1
            ORDER BY prev.date DESC
            LIMIT 1
        ),
        $6
    )
    ON CONFLICT (date, rate_type) DO UPDATE
    SET
        rate                 = EXCLUDED.rate,
        points               = EXCLUDED.points,
        apr                  = EXCLUDED.apr,
        change_from_previous = EXCLUDED.change_from_previous,
        source               = EXCLUDED.source,
        updated_at           = now()
    RETURNING ` + snapshotColumns + `, (xmax = 0) AS inserted;`

	latestRateSQL = `SELECT ` + snapshotColumns + `
    FROM rate_snapshots
    WHERE rate_type = $1
    ORDER BY date DESC
    LIMIT 1;`

	latestRateBeforeSQL = `SELECT ` + snapshotColumns + `
    FROM rate_snapshots
    WHERE rate_type = $1
      AND date < $2
    ORDER BY date DESC
    LIMIT 1;`

	rateHistorySQL = `SELECT ` + snapshotColumns + `
    FROM rate_snapshots
    WHERE rate_type = $1
      AND date >= $2
    ORDER BY date ASC;`

	lockAlertSQL = `SELECT pg_advisory_xact_lock(hashtextextended('refi_alert_trigger:' || $1::bigint::text, 0));`

	recentTriggerExistsSQL = `SELECT EXISTS (
        SELECT 1 FROM alert_triggers
        WHERE alert_id = $1
          AND fired_at > $2
    );`

	insertTriggerSQL = `INSERT INTO alert_triggers (
        id,
        alert_id,
        fired_at,
        reason,
        rate_at_trigger
    ) VALUES (
        $1, $2, $3, $4, $5::numeric
    );`

	lastTriggerSQL = `SELECT id, alert_id, fired_at, reason, rate_at_trigger::text
    FROM alert_triggers
    WHERE alert_id = $1
    ORDER BY fired_at DESC
    LIMIT 1;`

	listTriggersSQL = `SELECT id, alert_id, fired_at, reason, rate_at_trigger::text
    FROM alert_triggers
    WHERE alert_id = $1
    ORDER BY fired_at ASC;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RateStore persists daily rate snapshots keyed by (date, rate_type).
type RateStore interface {
	// Upsert writes one snapshot; created reports whether a new row was
	// inserted rather than an existing one amended.
	Upsert(ctx context.Context, w RateWrite) (snap RateSnapshot, created bool, err error)
	Latest(ctx context.Context, rateType string) (*RateSnapshot, error)
	LatestBefore(ctx context.Context, rateType string, date time.Time) (*RateSnapshot, error)
	History(ctx context.Context, rateType string, since time.Time) ([]RateSnapshot, error)
}

// TriggerStore persists alert triggers.
type TriggerStore interface {
	LastTrigger(ctx context.Context, alertID int64) (*Trigger, error)
	// InsertIfCooledDown stores trig unless another trigger for the
	// same alert fired within cooldown before trig.FiredAt. The check and the
	// insert are atomic per alert.
	InsertIfCooledDown(ctx context.Context, trig Trigger, cooldown time.Duration) (bool, error)
	ListTriggers(ctx context.Context, alertID int64) ([]Trigger, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL implementation of RateStore and TriggerStore.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Upsert inserts or amends the snapshot for (date, rate_type). The
// change is always measured against the latest earlier date.
func (s *Store) Upsert(ctx context.Context, w RateWrite) (RateSnapshot, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return RateSnapshot{}, false, err
	}

	row := pool.QueryRow(ctx, upsertRateSQL, upsertRateArgs(w)...)

	var inserted bool
	snap, err := scanSnapshot(row, &inserted)
	if err != nil {
		return RateSnapshot{}, false, persistErr("upsert rate snapshot", err)
	}
	return snap, inserted, nil
}

// Latest returns the newest snapshot for rateType, or nil.
func (s *Store) Latest(ctx context.Context, rateType string) (*RateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, pool, "latest rate", latestRateSQL, rateType)
}

// LatestBefore returns the newest snapshot strictly before date, or nil.
func (s *Store) LatestBefore(ctx context.Context, rateType string, date time.Time) (*RateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, pool, "latest rate before", latestRateBeforeSQL, rateType, date)
}

func (s *Store) queryOne(ctx context.Context, pool *pgxpool.Pool, op, sql string, args ...any) (*RateSnapshot, error) {
	snap, err := scanSnapshot(pool.QueryRow(ctx, sql, args...), nil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return &snap, nil
}

// History lists snapshots on or after since, oldest first.
func (s *Store) History(ctx context.Context, rateType string, since time.Time) ([]RateSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, rateHistorySQL, rateType, since)
	if queryErr != nil {
		return nil, persistErr("rate history", queryErr)
	}
	defer rows.Close()

	snapshots := make([]RateSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows, nil)
		if scanErr != nil {
			return nil, persistErr("scan rate history", scanErr)
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, persistErr("rate history", rows.Err())
	}
	return snapshots, nil
}

// InsertIfCooledDown serialises on a transaction-scoped advisory
// lock keyed by alert id.
func (s *Store) InsertIfCooledDown(ctx context.Context, trig Trigger, cooldown time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, persistErr("begin trigger tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockAlertSQL, trig.AlertID); err != nil {
		return false, persistErr("lock alert", err)
	}

	var recent bool
	if err := tx.QueryRow(ctx, recentTriggerExistsSQL, trig.AlertID, trig.FiredAt.Add(-cooldown)).Scan(&recent); err != nil {
		return false, persistErr("check cooldown", err)
	}
	if recent {
		return false, nil
	}

	if _, err := tx.Exec(ctx, insertTriggerSQL, insertTriggerArgs(trig)...); err != nil {
		return false, persistErr("insert trigger", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, persistErr("commit trigger", err)
	}
	return true, nil
}

// LastTrigger returns the most recent trigger for alertID, or nil.
func (s *Store) LastTrigger(ctx context.Context, alertID int64) (*Trigger, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	trig, err := scanTrigger(pool.QueryRow(ctx, lastTriggerSQL, alertID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("last trigger", err)
	}
	return &trig, nil
}

// ListTriggers lists every trigger for alertID, oldest first.
func (s *Store) ListTriggers(ctx context.Context, alertID int64) ([]Trigger, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTriggersSQL, alertID)
	if queryErr != nil {
		return nil, persistErr("list triggers", queryErr)
	}
	defer rows.Close()

	triggers := make([]Trigger, 0)
	for rows.Next() {
		trig, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, persistErr("scan trigger", scanErr)
		}
		triggers = append(triggers, trig)
	}
	if rows.Err() != nil {
		return nil, persistErr("list triggers", rows.Err())
	}
	return triggers, nil
}

func scanSnapshot(row pgx.Row, inserted *bool) (RateSnapshot, error) {
	var (
		snap      RateSnapshot
		rateStr   string
		pointsStr *string
		aprStr    *string
		changeStr *string
	)

	dest := []any{
		&snap.ID,
		&snap.Date,
		&snap.RateType,
		&rateStr,
		&pointsStr,
		&aprStr,
		&changeStr,
		&snap.Source,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return RateSnapshot{}, err
	}

	var err error
	if snap.Rate, err = decimal.NewFromString(rateStr); err != nil {
		return RateSnapshot{}, fmt.Errorf("parse rate: %w", err)
	}
	if snap.Points, err = parseNullableDecimal(pointsStr); err != nil {
		return RateSnapshot{}, fmt.Errorf("parse points: %w", err)
	}
	if snap.APR, err = parseNullableDecimal(aprStr); err != nil {
		return RateSnapshot{}, fmt.Errorf("parse apr: %w", err)
	}
	if snap.ChangeFromPrevious, err = parseNullableDecimal(changeStr); err != nil {
		return RateSnapshot{}, fmt.Errorf("parse change: %w", err)
	}
	snap.Date = snap.Date.UTC()
	return snap, nil
}

func scanTrigger(row pgx.Row) (Trigger, error) {
	var (
		trig    Trigger
		rateStr string
	)
	if err := row.Scan(&trig.ID, &trig.AlertID, &trig.FiredAt, &trig.Reason, &rateStr); err != nil {
		return Trigger{}, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return Trigger{}, fmt.Errorf("parse rate at trigger: %w", err)
	}
	trig.RateAtTrigger = rate
	trig.FiredAt = trig.FiredAt.UTC()
	return trig, nil
}

// Decimals and ids travel as strings so they bind in text format whatever
// the column type.
func upsertRateArgs(w RateWrite) []any {
	return []any{
		w.Date,
		w.RateType,
		w.Rate.String(),
		nullableDecimal(w.Points),
		nullableDecimal(w.APR),
		w.Source,
	}
}

func insertTriggerArgs(trig Trigger) []any {
	return []any{
		trig.ID.String(),
		trig.AlertID,
		trig.FiredAt,
		trig.Reason,
		trig.RateAtTrigger.String(),
	}
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullableDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var (
	_ RateStore      = (*Store)(nil)
	_ TriggerStore   = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
