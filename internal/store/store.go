package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ttufish/tank-monitor/internal/model"

	_ "modernc.org/sqlite"
)

// TimestampLayout is the format written to the timestamp columns.
const TimestampLayout = "2006-01-02 15:04:05"

// Location is the fixed UTC+8 zone used for row timestamps.
var Location = time.FixedZone("UTC+8", 8*60*60)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return New(db), nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// Timestamp formats t the way rows are stamped.
func Timestamp(t time.Time) string {
	return t.In(Location).Format(TimestampLayout)
}

// InsertSensorLog appends a snapshot of r stamped with the current time.
func (s *Store) InsertSensorLog(ctx context.Context, r model.Reading) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sensor_logs (timestamp, temp, tds, ph, turbidity, turbidity_ntu, water_level) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		Timestamp(s.now()),
		r.Temperature,
		r.TDS,
		r.PH,
		r.Turbidity,
		r.TurbidityNTU,
		r.WaterLevel,
	)
	if err != nil {
		return fmt.Errorf("insert sensor log: %w", err)
	}
	return nil
}

// InsertSystemEvent appends an event stamped with the current time.
func (s *Store) InsertSystemEvent(ctx context.Context, eventType, message string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO system_events (timestamp, event_type, message) VALUES (?, ?, ?);`,
		Timestamp(s.now()),
		eventType,
		message,
	)
	if err != nil {
		return fmt.Errorf("insert system event: %w", err)
	}
	return nil
}

// RecentSystemEvents returns up to limit events, newest first.
func (s *Store) RecentSystemEvents(ctx context.Context, limit int) ([]model.SystemEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT timestamp, event_type, message
		 FROM system_events
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query system events: %w", err)
	}
	defer rows.Close()

	events := make([]model.SystemEvent, 0, limit)
	for rows.Next() {
		var ts, eventType, message sql.NullString
		if err := rows.Scan(&ts, &eventType, &message); err != nil {
			return nil, fmt.Errorf("scan system event: %w", err)
		}
		events = append(events, model.SystemEvent{
			Timestamp: ts.String,
			EventType: eventType.String,
			Message:   message.String,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate system events: %w", err)
	}
	return events, nil
}

// RecentSensorLogs returns up to limit sensor rows, newest first.
func (s *Store) RecentSensorLogs(ctx context.Context, limit int) ([]model.SensorLog, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT timestamp, temp, tds, ph, turbidity, turbidity_ntu, water_level
		 FROM sensor_logs
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT ?;`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sensor logs: %w", err)
	}
	defer rows.Close()

	logs := make([]model.SensorLog, 0, limit)
	for rows.Next() {
		row, err := scanSensorLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sensor logs: %w", err)
	}
	return logs, nil
}

// LatestSensorLog returns the most recent sensor row. ok is false when the table is empty.
func (s *Store) LatestSensorLog(ctx context.Context) (model.SensorLog, bool, error) {
	logs, err := s.RecentSensorLogs(ctx, 1)
	if err != nil {
		return model.SensorLog{}, false, err
	}
	if len(logs) == 0 {
		return model.SensorLog{}, false, nil
	}
	return logs[0], true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSensorLog(sc scanner) (model.SensorLog, error) {
	var (
		ts                       sql.NullString
		temp, tds, ph, turbidity sql.NullFloat64
		ntu, level               sql.NullFloat64
	)
	if err := sc.Scan(&ts, &temp, &tds, &ph, &turbidity, &ntu, &level); err != nil {
		return model.SensorLog{}, fmt.Errorf("scan sensor log: %w", err)
	}

	return model.SensorLog{
		Timestamp: ts.String,
		Reading: model.Reading{
			Temperature:  temp.Float64,
			TDS:          tds.Float64,
			PH:           ph.Float64,
			Turbidity:    turbidity.Float64,
			TurbidityNTU: int(ntu.Float64),
			WaterLevel:   int(level.Float64),
		},
	}, nil
}

// Columns lists the column names of table in declaration order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}
	return tableColumns(ctx, s.db, table)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func tableColumns(ctx context.Context, q queryer, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q);`, table))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table info %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table info %s: %w", table, err)
	}
	return cols, nil
}
