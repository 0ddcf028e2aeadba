package store

import (
	"context"
	"log/slog"
	"time"

	"ttufish/tank-monitor/internal/metrics"
	"ttufish/tank-monitor/internal/model"
)

const writeTimeout = 2 * time.Second

// Recorder persists readings and events on behalf of the listener and the
// alert engine. Failures are logged and counted but never returned.
type Recorder struct {
	store   *Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRecorder wraps s for callers that cannot act on write errors.
func NewRecorder(s *Store, logger *slog.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{store: s, logger: logger, metrics: m}
}

// RecordReading appends a sensor_logs row.
func (r *Recorder) RecordReading(ctx context.Context, reading model.Reading) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := r.store.InsertSensorLog(ctx, reading)
	r.metrics.StoreWrite("sensor_logs", err)
	if err != nil {
		r.logger.Error("record reading failed", "error", err)
	}
}

// RecordEvent appends a system_events row.
func (r *Recorder) RecordEvent(ctx context.Context, eventType, message string) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := r.store.InsertSystemEvent(ctx, eventType, message)
	r.metrics.StoreWrite("system_events", err)
	if err != nil {
		r.logger.Error("record event failed", "event_type", eventType, "error", err)
	}
}
