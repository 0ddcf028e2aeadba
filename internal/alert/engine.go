// Package alert evaluates threshold rules against each ingested reading and
// fires notifications, at most once per category per cooldown window.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ttufish/tank-monitor/internal/metrics"
	"ttufish/tank-monitor/internal/model"
)

// Category identifies one alert rule. The set is fixed.
type Category string

const (
	Heater     Category = "heater"
	Pump       Category = "pump"
	WaterLevel Category = "water_level"
	PH         Category = "ph"
)

// DefaultCooldown is the minimum spacing between two firings of one category.
const DefaultCooldown = 600 * time.Second

// Notifier delivers alert text. Implementations must not block.
type Notifier interface {
	Notify(text string)
}

// EventRecorder persists system events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, eventType, message string)
}

type rule struct {
	category Category
	match    func(model.Reading) bool
	message  func(model.Reading) string
	// event is nil for categories that only notify.
	event func(model.Reading) string
}

var rules = []rule{
	{
		category: Heater,
		match:    func(r model.Reading) bool { return r.Temperature > 5 && r.Temperature < 20 },
		message: func(r model.Reading) string {
			return fmt.Sprintf("[Low temperature alert] Water temperature: %.1f°C\nLow temperature detected, heater switched on", r.Temperature)
		},
	},
	{
		category: Pump,
		match:    func(r model.Reading) bool { return r.TurbidityNTU >= 3000 || r.TDS > 200 },
		message: func(r model.Reading) string {
			return fmt.Sprintf("[Water quality alert] NTU: %d, TDS: %g\nDirty water detected, filter switched on", r.TurbidityNTU, r.TDS)
		},
	},
	{
		category: WaterLevel,
		match:    func(r model.Reading) bool { return r.WaterLevel >= 0 && r.WaterLevel < 410 },
		message: func(r model.Reading) string {
			return fmt.Sprintf("[Water level danger] Level: %d\nPlease top up the tank!", r.WaterLevel)
		},
		event: func(r model.Reading) string {
			return fmt.Sprintf("Water level low (%d)", r.WaterLevel)
		},
	},
	{
		category: PH,
		match:    func(r model.Reading) bool { return r.PH < 6.5 || r.PH > 8.5 },
		message: func(r model.Reading) string {
			return fmt.Sprintf("[pH alert] pH: %g\nValue outside the safe range (6.5 ~ 8.5)", r.PH)
		},
		event: func(r model.Reading) string {
			return fmt.Sprintf("pH out of range (%g)", r.PH)
		},
	},
}

// Engine holds the per-category last-fired times. A category absent from the
// map has never fired since process start.
type Engine struct {
	notifier Notifier
	events   EventRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[Category]time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCooldown overrides DefaultCooldown.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) { e.cooldown = d }
}

// NewEngine returns an Engine with DefaultCooldown and the wall clock unless
// overridden by opts.
func NewEngine(n Notifier, events EventRecorder, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Engine {
	e := &Engine{
		notifier: n,
		events:   events,
		logger:   logger,
		metrics:  m,
		cooldown: DefaultCooldown,
		now:      time.Now,
		last:     make(map[Category]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate checks every rule against r and returns the categories that fired.
func (e *Engine) Evaluate(ctx context.Context, r model.Reading) []Category {
	var fired []Category
	for _, rl := range rules {
		if !rl.match(r) {
			continue
		}
		if !e.claim(rl.category) {
			continue
		}

		fired = append(fired, rl.category)
		e.metrics.AlertFired(string(rl.category))
		e.logger.Info("alert fired", "category", rl.category)

		e.notifier.Notify(rl.message(r))
		if rl.event != nil {
			e.events.RecordEvent(ctx, model.EventTypeAlarm, rl.event(r))
		}
	}
	return fired
}

// claim records a firing for c if its cooldown has elapsed.
func (e *Engine) claim(c Category) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if last, ok := e.last[c]; ok && now.Sub(last) <= e.cooldown {
		return false
	}
	e.last[c] = now
	return true
}

// LastFired returns when c last fired. ok is false if it never has.
func (e *Engine) LastFired(c Category) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.last[c]
	return t, ok
}
