package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// postgresMigrations are applied in order; index+1 is the schema version.
var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS rate_snapshots (
        id                   BIGSERIAL PRIMARY KEY,
        date                 DATE NOT NULL,
        rate_type            TEXT NOT NULL,
        rate                 NUMERIC(8, 6) NOT NULL,
        points               NUMERIC(6, 3),
        apr                  NUMERIC(8, 6),
        change_from_previous NUMERIC(8, 6),
        source               TEXT NOT NULL,
        created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
        CONSTRAINT rate_snapshots_date_type_key UNIQUE (date, rate_type)
    );
    CREATE INDEX IF NOT EXISTS idx_rate_snapshots_date_type ON rate_snapshots (date, rate_type);
    CREATE INDEX IF NOT EXISTS idx_rate_snapshots_type_date ON rate_snapshots (rate_type, date DESC);

    CREATE TABLE IF NOT EXISTS alert_triggers (
        id              UUID PRIMARY KEY,
        alert_id        BIGINT NOT NULL,
        fired_at        TIMESTAMPTZ NOT NULL,
        reason          TEXT NOT NULL,
        rate_at_trigger NUMERIC(8, 6) NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_alert_triggers_alert_fired ON alert_triggers (alert_id, fired_at);`,

	// Portfolio tables are owned by the host application; created here only
	// when absent so a standalone deployment has somewhere to read from.
	`CREATE TABLE IF NOT EXISTS mortgages (
        id                    BIGSERIAL PRIMARY KEY,
        principal             NUMERIC(14, 2) NOT NULL,
        rate                  NUMERIC(8, 6) NOT NULL,
        term_months           INTEGER NOT NULL,
        remaining_principal   NUMERIC(14, 2) NOT NULL,
        remaining_term_months INTEGER NOT NULL,
        zip_code              TEXT NOT NULL DEFAULT ''
    );

    CREATE TABLE IF NOT EXISTS refi_alerts (
        id                  BIGSERIAL PRIMARY KEY,
        mortgage_id         BIGINT NOT NULL,
        kind                TEXT NOT NULL CHECK (kind IN ('rate', 'payment')),
        target_rate         NUMERIC(8, 6),
        target_payment      NUMERIC(14, 2),
        target_term_months  INTEGER NOT NULL,
        estimated_refi_cost NUMERIC(14, 2) NOT NULL DEFAULT 0,
        is_active           BOOLEAN NOT NULL DEFAULT TRUE,
        is_paused           BOOLEAN NOT NULL DEFAULT FALSE,
        deleted_at          TIMESTAMPTZ
    );`,
}

// sqliteMigrations mirror the postgres rate and trigger tables. Dates are
// stored as YYYY-MM-DD text, decimals as text, instants as unix micros.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS rate_snapshots (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		date                 TEXT NOT NULL,
		rate_type            TEXT NOT NULL,
		rate                 TEXT NOT NULL,
		points               TEXT,
		apr                  TEXT,
		change_from_previous TEXT,
		source               TEXT NOT NULL,
		created_at           INTEGER NOT NULL,
		updated_at           INTEGER NOT NULL,
		UNIQUE (date, rate_type)
	);
	CREATE INDEX IF NOT EXISTS idx_rate_snapshots_date_type ON rate_snapshots (date, rate_type);
	CREATE INDEX IF NOT EXISTS idx_rate_snapshots_type_date ON rate_snapshots (rate_type, date DESC);

	CREATE TABLE IF NOT EXISTS alert_triggers (
		id              TEXT PRIMARY KEY,
		alert_id        INTEGER NOT NULL,
		fired_at        INTEGER NOT NULL,
		reason          TEXT NOT NULL,
		rate_at_trigger TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alert_triggers_alert_fired ON alert_triggers (alert_id, fired_at);`,
}

const postgresMigrationTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Migrate applies pending postgres migrations.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, postgresMigrationTableSQL); err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := current; i < len(postgresMigrations); i++ {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(ctx, postgresMigrations[i]); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, i+1); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

func runSQLiteMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := current; i < len(sqliteMigrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(sqliteMigrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
