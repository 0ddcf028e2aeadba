// Package metrics exposes Prometheus collectors for the tank monitor.
//
// All methods are safe to call on a nil *Metrics so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "fishtank"

// Metrics groups the collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	messages      *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	storeWrites   *prometheus.CounterVec
	videoClients  prometheus.Gauge
	liveClients   prometheus.Gauge
	reading       *prometheus.GaugeVec
}

// New creates collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_messages_total",
			Help:      "MQTT messages received, by topic and outcome.",
		}, []string{"topic", "result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts fired, by category.",
		}, []string{"category"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications, by outcome.",
		}, []string{"result"}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Datastore writes, by table and outcome.",
		}, []string{"table", "result"}),
		videoClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "video_clients",
			Help:      "Connected MJPEG clients.",
		}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Connected websocket clients.",
		}),
		reading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Latest ingested sensor value, by sensor.",
		}, []string{"sensor"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages, m.alerts, m.notifications, m.storeWrites,
		m.videoClients, m.liveClients, m.reading,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MessageReceived counts an MQTT delivery by topic and outcome.
func (m *Metrics) MessageReceived(topic, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(topic, result).Inc()
}

// AlertFired counts a firing for category.
func (m *Metrics) AlertFired(category string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(category).Inc()
}

// Notification counts a notifier outcome (sent, failed, skipped, dropped).
func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// StoreWrite counts a row write to table, labelled ok or error.
func (m *Metrics) StoreWrite(table string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeWrites.WithLabelValues(table, result).Inc()
}

// VideoClientDelta adjusts the number of connected MJPEG viewers.
func (m *Metrics) VideoClientDelta(delta float64) {
	if m == nil {
		return
	}
	m.videoClients.Add(delta)
}

// LiveClientDelta adjusts the number of connected websocket clients.
func (m *Metrics) LiveClientDelta(delta float64) {
	if m == nil {
		return
	}
	m.liveClients.Add(delta)
}

// ObserveReading records the latest value of each sensor.
func (m *Metrics) ObserveReading(values map[string]float64) {
	if m == nil {
		return
	}
	for sensor, v := range values {
		m.reading.WithLabelValues(sensor).Set(v)
	}
}

// Count returns the current value of a counter, for tests and diagnostics.
func (m *Metrics) Count(name string, labels ...string) float64 {
	if m == nil {
		return 0
	}
	var vec *prometheus.CounterVec
	switch name {
	case "messages":
		vec = m.messages
	case "alerts":
		vec = m.alerts
	case "notifications":
		vec = m.notifications
	case "store_writes":
		vec = m.storeWrites
	default:
		return 0
	}
	return counterValue(vec.WithLabelValues(labels...))
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
