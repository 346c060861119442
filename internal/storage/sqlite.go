package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

const sqliteDateLayout = "2006-01-02"

// SQLite implements RateStore and TriggerStore on a local database file.
// A single connection serialises writers, which gives the same per-key
// atomicity the postgres store gets from its constraints and locks.
type SQLite struct {
	db    *sql.DB
	locks sync.Map
	now   func() time.Time
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runSQLiteMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// TryAdvisoryLock is process local for SQLite.
func (s *SQLite) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	value, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, false, nil
	}
	return mu.Unlock, true, nil
}

// Upsert inserts or amends the snapshot for (date, rate_type) in one
// transaction.
func (s *SQLite) Upsert(ctx context.Context, w RateWrite) (RateSnapshot, bool, error) {
	day := w.Date.UTC().Format(sqliteDateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RateSnapshot{}, false, persistErr("begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM rate_snapshots WHERE date = ? AND rate_type = ?`, day, w.RateType,
	).Scan(&existing)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return RateSnapshot{}, false, persistErr("check rate snapshot", err)
	}

	var change *string
	var prevStr string
	err = tx.QueryRowContext(ctx,
		`SELECT rate FROM rate_snapshots WHERE rate_type = ? AND date < ? ORDER BY date DESC LIMIT 1`,
		w.RateType, day,
	).Scan(&prevStr)
	switch {
	case err == nil:
		prev, parseErr := decimal.NewFromString(prevStr)
		if parseErr != nil {
			return RateSnapshot{}, false, persistErr("parse previous rate", parseErr)
		}
		diff := w.Rate.Sub(prev).String()
		change = &diff
	case !errors.Is(err, sql.ErrNoRows):
		return RateSnapshot{}, false, persistErr("previous rate", err)
	}

	stamp := s.now().UTC().UnixMicro()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO rate_snapshots (date, rate_type, rate, points, apr, change_from_previous, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (date, rate_type) DO UPDATE SET
			rate = excluded.rate,
			points = excluded.points,
			apr = excluded.apr,
			change_from_previous = excluded.change_from_previous,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		day, w.RateType, w.Rate.String(), nullableDecimal(w.Points), nullableDecimal(w.APR),
		change, w.Source, stamp, stamp,
	)
	if err != nil {
		return RateSnapshot{}, false, persistErr("upsert rate snapshot", err)
	}

	snap, err := scanSQLiteSnapshot(tx.QueryRowContext(ctx,
		`SELECT `+sqliteSnapshotColumns+` FROM rate_snapshots WHERE date = ? AND rate_type = ?`, day, w.RateType,
	))
	if err != nil {
		return RateSnapshot{}, false, persistErr("read rate snapshot", err)
	}

	if err := tx.Commit(); err != nil {
		return RateSnapshot{}, false, persistErr("commit upsert", err)
	}
	return snap, created, nil
}

const sqliteSnapshotColumns = `id, date, rate_type, rate, points, apr, change_from_previous, source, created_at, updated_at`

// Latest returns the newest snapshot for rateType, or nil.
func (s *SQLite) Latest(ctx context.Context, rateType string) (*RateSnapshot, error) {
	return s.queryOne(ctx, "latest rate",
		`SELECT `+sqliteSnapshotColumns+` FROM rate_snapshots WHERE rate_type = ? ORDER BY date DESC LIMIT 1`,
		rateType)
}

// LatestBefore returns the newest snapshot strictly before date, or nil.
func (s *SQLite) LatestBefore(ctx context.Context, rateType string, date time.Time) (*RateSnapshot, error) {
	return s.queryOne(ctx, "latest rate before",
		`SELECT `+sqliteSnapshotColumns+` FROM rate_snapshots WHERE rate_type = ? AND date < ? ORDER BY date DESC LIMIT 1`,
		rateType, date.UTC().Format(sqliteDateLayout))
}

func (s *SQLite) queryOne(ctx context.Context, op, query string, args ...any) (*RateSnapshot, error) {
	snap, err := scanSQLiteSnapshot(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr(op, err)
	}
	return &snap, nil
}

// History lists snapshots on or after since, oldest first.
func (s *SQLite) History(ctx context.Context, rateType string, since time.Time) ([]RateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteSnapshotColumns+` FROM rate_snapshots WHERE rate_type = ? AND date >= ? ORDER BY date ASC`,
		rateType, since.UTC().Format(sqliteDateLayout))
	if err != nil {
		return nil, persistErr("rate history", err)
	}
	defer rows.Close()

	snapshots := make([]RateSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSQLiteSnapshot(rows)
		if scanErr != nil {
			return nil, persistErr("scan rate history", scanErr)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("rate history", err)
	}
	return snapshots, nil
}

// InsertIfCooledDown checks and inserts inside one transaction on the single
// connection.
func (s *SQLite) InsertIfCooledDown(ctx context.Context, trig Trigger, cooldown time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, persistErr("begin trigger tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var recent bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM alert_triggers WHERE alert_id = ? AND fired_at > ?)`,
		trig.AlertID, trig.FiredAt.Add(-cooldown).UTC().UnixMicro(),
	).Scan(&recent)
	if err != nil {
		return false, persistErr("check cooldown", err)
	}
	if recent {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO alert_triggers (id, alert_id, fired_at, reason, rate_at_trigger) VALUES (?, ?, ?, ?, ?)`,
		trig.ID.String(), trig.AlertID, trig.FiredAt.UTC().UnixMicro(), trig.Reason, trig.RateAtTrigger.String(),
	)
	if err != nil {
		return false, persistErr("insert trigger", err)
	}
	if err := tx.Commit(); err != nil {
		return false, persistErr("commit trigger", err)
	}
	return true, nil
}

// LastTrigger returns the most recent trigger for alertID, or nil.
func (s *SQLite) LastTrigger(ctx context.Context, alertID int64) (*Trigger, error) {
	trig, err := scanSQLiteTrigger(s.db.QueryRowContext(ctx,
		`SELECT id, alert_id, fired_at, reason, rate_at_trigger FROM alert_triggers
		 WHERE alert_id = ? ORDER BY fired_at DESC LIMIT 1`, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("last trigger", err)
	}
	return &trig, nil
}

// ListTriggers lists every trigger for alertID, oldest first.
func (s *SQLite) ListTriggers(ctx context.Context, alertID int64) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_id, fired_at, reason, rate_at_trigger FROM alert_triggers
		 WHERE alert_id = ? ORDER BY fired_at ASC`, alertID)
	if err != nil {
		return nil, persistErr("list triggers", err)
	}
	defer rows.Close()

	triggers := make([]Trigger, 0)
	for rows.Next() {
		trig, scanErr := scanSQLiteTrigger(rows)
		if scanErr != nil {
			return nil, persistErr("scan trigger", scanErr)
		}
		triggers = append(triggers, trig)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list triggers", err)
	}
	return triggers, nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSnapshot(row sqlScanner) (RateSnapshot, error) {
	var (
		snap       RateSnapshot
		day        string
		rateStr    string
		pointsStr  *string
		aprStr     *string
		changeStr  *string
		createdAt  int64
		updatedAt  int64
		parseError error
	)
	if err := row.Scan(&snap.ID, &day, &snap.RateType, &rateStr, &pointsStr, &aprStr,
		&changeStr, &snap.Source, &createdAt, &updatedAt); err != nil {
		return RateSnapshot{}, err
	}

	if snap.Date, parseError = time.Parse(sqliteDateLayout, day); parseError != nil {
		return RateSnapshot{}, fmt.Errorf("parse date: %w", parseError)
	}
	if snap.Rate, parseError = decimal.NewFromString(rateStr); parseError != nil {
		return RateSnapshot{}, fmt.Errorf("parse rate: %w", parseError)
	}
	if snap.Points, parseError = parseNullableDecimal(pointsStr); parseError != nil {
		return RateSnapshot{}, fmt.Errorf("parse points: %w", parseError)
	}
	if snap.APR, parseError = parseNullableDecimal(aprStr); parseError != nil {
		return RateSnapshot{}, fmt.Errorf("parse apr: %w", parseError)
	}
	if snap.ChangeFromPrevious, parseError = parseNullableDecimal(changeStr); parseError != nil {
		return RateSnapshot{}, fmt.Errorf("parse change: %w", parseError)
	}
	snap.CreatedAt = time.UnixMicro(createdAt).UTC()
	snap.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return snap, nil
}

func scanSQLiteTrigger(row sqlScanner) (Trigger, error) {
	var (
		trig    Trigger
		id      string
		firedAt int64
		rateStr string
	)
	if err := row.Scan(&id, &trig.AlertID, &firedAt, &trig.Reason, &rateStr); err != nil {
		return Trigger{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Trigger{}, fmt.Errorf("parse trigger id: %w", err)
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return Trigger{}, fmt.Errorf("parse rate at trigger: %w", err)
	}
	trig.ID = parsed
	trig.FiredAt = time.UnixMicro(firedAt).UTC()
	trig.RateAtTrigger = rate
	return trig, nil
}

var (
	_ RateStore      = (*SQLite)(nil)
	_ TriggerStore   = (*SQLite)(nil)
	_ AdvisoryLocker = (*SQLite)(nil)
)
