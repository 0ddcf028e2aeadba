package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttufish/tank-monitor/internal/metrics"
	"ttufish/tank-monitor/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "fish_system.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func fixedClock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[min(i, len(ts)-1)]
		i++
		return t
	}
}

func TestTimestampUsesUTCPlus8(t *testing.T) {
	got := Timestamp(time.Date(2024, 3, 1, 17, 30, 5, 0, time.UTC))
	assert.Equal(t, "2024-03-02 01:30:05", got)
}

func TestMigrateCreatesSchemaAndIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	cols, err := s.Columns(ctx, "sensor_logs")
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"timestamp", "temp", "tds", "ph", "turbidity", "turbidity_ntu", "water_level"}, cols)

	var levelType string
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT type FROM pragma_table_info('sensor_logs') WHERE name = 'water_level';`).Scan(&levelType))
	assert.Equal(t, "REAL", levelType)

	cols, err = s.Columns(ctx, "system_events")
	require.NoError(t, err)
	assert.Equal(t, []string{"timestamp", "event_type", "message"}, cols)
}

func TestMigrateUpgradesLegacyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE sensor_logs (timestamp TEXT, temp REAL, tds REAL, ph REAL, turbidity REAL, water_level INTEGER);`)
	require.NoError(t, err)
	_, err = raw.Exec(`INSERT INTO sensor_logs VALUES ('2024-01-01 08:00:00', 25.5, 120, 7.0, 1.2, 500);`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	cols, err := s.Columns(ctx, "sensor_logs")
	require.NoError(t, err)
	assert.Contains(t, cols, "turbidity_ntu")

	row, ok, err := s.LatestSensorLog(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2024-01-01 08:00:00", row.Timestamp)
	assert.Equal(t, 25.5, row.Temperature)
	assert.Equal(t, 500, row.WaterLevel)
	assert.Zero(t, row.TurbidityNTU)
}

func TestInsertAndReadSensorLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = fixedClock(base, base.Add(time.Minute))

	_, ok, err := s.LatestSensorLog(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first := model.Reading{Temperature: 24.8, TDS: 150, PH: 7.2, Turbidity: 1.1, TurbidityNTU: 120, WaterLevel: 480}
	second := model.Reading{Temperature: 25.1, TDS: 155, PH: 7.1, Turbidity: 1.3, TurbidityNTU: 140, WaterLevel: 470}
	require.NoError(t, s.InsertSensorLog(ctx, first))
	require.NoError(t, s.InsertSensorLog(ctx, second))

	logs, err := s.RecentSensorLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.SensorLog{Timestamp: "2024-05-01 08:01:00", Reading: second}, logs[0])
	assert.Equal(t, model.SensorLog{Timestamp: "2024-05-01 08:00:00", Reading: first}, logs[1])
}

func TestRecentSystemEventsNewestFirstWithTies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	same := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = fixedClock(same, same, same.Add(time.Second))

	require.NoError(t, s.InsertSystemEvent(ctx, model.EventTypeInfo, "first"))
	require.NoError(t, s.InsertSystemEvent(ctx, model.EventTypeAlarm, "second"))
	require.NoError(t, s.InsertSystemEvent(ctx, model.EventTypeInfo, "third"))

	events, err := s.RecentSystemEvents(ctx, 20)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "third", events[0].Message)
	assert.Equal(t, "second", events[1].Message, "equal timestamps fall back to insertion order")
	assert.Equal(t, "first", events[2].Message)
	assert.Equal(t, model.EventTypeAlarm, events[1].EventType)

	limited, err := s.RecentSystemEvents(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRecentSystemEventsCapsAtLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, s.InsertSystemEvent(ctx, model.EventTypeInfo, "tick"))
	}

	events, err := s.RecentSystemEvents(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, events, 20)
}

func TestRecorderSwallowsWriteErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sensor_logs").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectExec("INSERT INTO system_events").WillReturnError(errors.New("database is locked"))

	m := metrics.New()
	rec := NewRecorder(New(db), slog.New(slog.NewTextHandler(io.Discard, nil)), m)

	assert.NotPanics(t, func() {
		rec.RecordReading(context.Background(), model.Reading{Temperature: 25})
		rec.RecordEvent(context.Background(), model.EventTypeInfo, "hello")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 1.0, m.Count("store_writes", "sensor_logs", "error"))
	assert.Equal(t, 1.0, m.Count("store_writes", "system_events", "error"))
}

func TestRecorderWritesRows(t *testing.T) {
	s := openTestStore(t)
	m := metrics.New()
	rec := NewRecorder(s, slog.New(slog.NewTextHandler(io.Discard, nil)), m)

	rec.RecordEvent(context.Background(), model.EventTypeAlarm, "low water")

	events, err := s.RecentSystemEvents(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "low water", events[0].Message)
	assert.Equal(t, 1.0, m.Count("store_writes", "system_events", "ok"))
}
