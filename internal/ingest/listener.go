package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"ttufish/tank-monitor/internal/alert"
	"ttufish/tank-monitor/internal/metrics"
	"ttufish/tank-monitor/internal/model"
)

// Topics the listener subscribes to.
const (
	SensorTopic = "ttu_fish/sensors"
	LogTopic    = "ttu_fish/log"
)

const (
	connectWait    = 5 * time.Second
	disconnectWait = 250
)

// Recorder persists what the listener ingests.
type Recorder interface {
	RecordReading(ctx context.Context, r model.Reading)
	RecordEvent(ctx context.Context, eventType, message string)
}

// Evaluator runs alert rules against a fresh reading.
type Evaluator interface {
	Evaluate(ctx context.Context, r model.Reading) []alert.Category
}

// Observer is told about every accepted reading after persistence and alert
// evaluation have finished.
type Observer func(r model.Reading, fired []alert.Category)

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Listener consumes the sensor and log topics and drives the state, the
// recorder and the alert engine.
type Listener struct {
	state    *State
	recorder Recorder
	engine   Evaluator
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu        sync.RWMutex
	observers []Observer
	client    mqtt.Client
}

// NewListener returns a Listener that is not yet connected; call Start.
func NewListener(state *State, rec Recorder, engine Evaluator, logger *slog.Logger, m *metrics.Metrics) *Listener {
	return &Listener{
		state:    state,
		recorder: rec,
		engine:   engine,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// AddObserver registers o for subsequent readings.
func (l *Listener) AddObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Start connects to the broker and subscribes on every (re)connect. A broker
// that is unreachable at startup is retried in the background.
func (l *Listener) Start(ctx context.Context, o Options) error {
	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(clientID(o.ClientID)).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		l.logger.Info("connected to broker", "broker", o.Broker)
		filters := map[string]byte{SensorTopic: 0, LogTopic: 0}
		token := c.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
			l.HandleMessage(ctx, msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			l.logger.Error("subscribe failed", "error", token.Error())
			return
		}
		l.logger.Info("subscribed", "topics", []string{SensorTopic, LogTopic})
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.logger.Warn("broker connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(connectWait) && token.Error() != nil {
		return fmt.Errorf("connect to broker %s: %w", o.Broker, token.Error())
	}

	l.mu.Lock()
	l.client = client
	l.mu.Unlock()
	return nil
}

// Connected reports whether the broker session is currently up.
func (l *Listener) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.client != nil && l.client.IsConnected()
}

// Stop disconnects from the broker.
func (l *Listener) Stop() {
	l.mu.Lock()
	client := l.client
	l.client = nil
	l.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectWait)
	}
}

// HandleMessage processes one delivery. Malformed payloads are logged and
// dropped without touching the current reading.
func (l *Listener) HandleMessage(ctx context.Context, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("message handler panic", "topic", topic, "panic", r)
		}
	}()

	switch topic {
	case SensorTopic:
		l.handleSensor(ctx, payload)
	case LogTopic:
		l.handleLog(ctx, payload)
	default:
		l.metrics.MessageReceived(topic, "ignored")
		l.logger.Debug("ignoring message", "topic", topic)
	}
}

func (l *Listener) handleSensor(ctx context.Context, payload []byte) {
	reading, err := decodeSensor(payload)
	if err != nil {
		l.metrics.MessageReceived(SensorTopic, "rejected")
		l.logger.Warn("drop sensor message", "error", err, "payload_bytes", len(payload))
		return
	}
	l.metrics.MessageReceived(SensorTopic, "ok")

	l.state.Set(reading, l.now())
	l.metrics.ObserveReading(map[string]float64{
		"temp":          reading.Temperature,
		"ph":            reading.PH,
		"tds":           reading.TDS,
		"turbidity":     reading.Turbidity,
		"turbidity_ntu": float64(reading.TurbidityNTU),
		"water_level":   float64(reading.WaterLevel),
	})

	l.recorder.RecordReading(ctx, reading)
	fired := l.engine.Evaluate(ctx, reading)

	l.mu.RLock()
	observers := l.observers
	l.mu.RUnlock()
	for _, o := range observers {
		o(reading, fired)
	}
}

func (l *Listener) handleLog(ctx context.Context, payload []byte) {
	eventType, message, err := decodeLog(payload)
	if err != nil {
		l.metrics.MessageReceived(LogTopic, "rejected")
		l.logger.Warn("drop log message", "error", err, "payload_bytes", len(payload))
		return
	}
	l.metrics.MessageReceived(LogTopic, "ok")
	l.recorder.RecordEvent(ctx, eventType, message)
}

func clientID(prefix string) string {
	if prefix == "" {
		prefix = "tank-monitor"
	}
	return prefix + "-" + uuid.NewString()[:8]
}
