package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
)

type migration func(ctx context.Context, tx *sql.Tx) error

// Databases written by the earlier dashboard never set user_version, so every
// step has to tolerate tables that already exist, including sensor_logs
// tables created before turbidity_ntu was added.
var migrations = []migration{
	createBaseTables,
	addTurbidityNTU,
	indexSystemEvents,
}

func createBaseTables(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensor_logs (
			timestamp     TEXT,
			temp          REAL,
			tds           REAL,
			ph            REAL,
			turbidity     REAL,
			turbidity_ntu REAL,
			water_level   REAL
		);`,
		`CREATE TABLE IF NOT EXISTS system_events (
			timestamp  TEXT,
			event_type TEXT,
			message    TEXT
		);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func addTurbidityNTU(ctx context.Context, tx *sql.Tx) error {
	cols, err := tableColumns(ctx, tx, "sensor_logs")
	if err != nil {
		return err
	}
	if slices.Contains(cols, "turbidity_ntu") {
		return nil
	}
	_, err = tx.ExecContext(ctx, `ALTER TABLE sensor_logs ADD COLUMN turbidity_ntu REAL;`)
	return err
}

func indexSystemEvents(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_system_events_timestamp ON system_events(timestamp);`)
	return err
}

// SchemaVersion reports the applied migration count.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store not initialized")
	}
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// Migrate applies pending migrations, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration v%d: %w", i+1, err)
		}
		if err := migrations[i](ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set user_version %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", i+1, err)
		}
	}
	return nil
}
