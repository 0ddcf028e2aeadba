package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttufish/tank-monitor/internal/alert"
	"ttufish/tank-monitor/internal/metrics"
	"ttufish/tank-monitor/internal/model"
)

type fakeRecorder struct {
	mu       sync.Mutex
	readings []model.Reading
	events   [][2]string
}

func (f *fakeRecorder) RecordReading(_ context.Context, r model.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, r)
}

func (f *fakeRecorder) RecordEvent(_ context.Context, eventType, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, [2]string{eventType, message})
}

type countingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (c *countingNotifier) Notify(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
}

type panickingEvaluator struct{}

func (panickingEvaluator) Evaluate(context.Context, model.Reading) []alert.Category {
	panic("boom")
}

type fixture struct {
	listener *Listener
	state    *State
	recorder *fakeRecorder
	notifier *countingNotifier
	metrics  *metrics.Metrics
}

func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		state:    NewState(),
		recorder: &fakeRecorder{},
		notifier: &countingNotifier{},
		metrics:  metrics.New(),
	}
	engine := alert.NewEngine(f.notifier, f.recorder, logger, f.metrics)
	f.listener = NewListener(f.state, f.recorder, engine, logger, f.metrics)
	return f
}

func TestHandleMessage_ColdLowerBoundNoAlerts(t *testing.T) {
	f := newFixture()

	f.listener.HandleMessage(context.Background(), SensorTopic,
		[]byte(`{"temp":4,"ph":7,"tds":50,"ntu":100,"level":500}`))

	want := model.Reading{Temperature: 4, PH: 7, TDS: 50, TurbidityNTU: 100, WaterLevel: 500}
	assert.Equal(t, want, f.state.Current())
	assert.Equal(t, []model.Reading{want}, f.recorder.readings)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.recorder.events)
}

func TestHandleMessage_HeaterFiresOnceForRepeatedReading(t *testing.T) {
	f := newFixture()
	payload := []byte(`{"temp":10,"ph":7,"tds":50,"ntu":100,"level":500}`)

	f.listener.HandleMessage(context.Background(), SensorTopic, payload)
	f.listener.HandleMessage(context.Background(), SensorTopic, payload)

	assert.Len(t, f.recorder.readings, 2)
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0], "Low temperature")
}

func TestHandleMessage_PHAlarmRecorded(t *testing.T) {
	f := newFixture()

	f.listener.HandleMessage(context.Background(), SensorTopic,
		[]byte(`{"temp":25,"ph":9,"tds":50,"ntu":100,"level":500}`))

	require.Len(t, f.notifier.sent, 1)
	require.Len(t, f.recorder.events, 1)
	assert.Equal(t, model.EventTypeAlarm, f.recorder.events[0][0])
}

func TestHandleMessage_MalformedSensorPayloadLeavesStateUntouched(t *testing.T) {
	f := newFixture()
	f.listener.HandleMessage(context.Background(), SensorTopic, []byte(`{"temp":21,"ph":7,"level":500}`))
	before, updated := f.state.Current(), f.state.UpdatedAt()
	require.False(t, updated.IsZero())

	assert.NotPanics(t, func() {
		f.listener.HandleMessage(context.Background(), SensorTopic, []byte(`{"temp": 9,`))
	})

	assert.Equal(t, before, f.state.Current())
	assert.Equal(t, updated, f.state.UpdatedAt())
	assert.Len(t, f.recorder.readings, 1)
	assert.Empty(t, f.notifier.sent)
	assert.Equal(t, 1.0, f.metrics.Count("messages", SensorTopic, "rejected"))
}

func TestHandleMessage_LogTopic(t *testing.T) {
	f := newFixture()

	f.listener.HandleMessage(context.Background(), LogTopic, []byte(`{"message":"feeder ran"}`))
	f.listener.HandleMessage(context.Background(), LogTopic, []byte(`not json`))

	assert.Equal(t, [][2]string{{model.EventTypeInfo, "feeder ran"}}, f.recorder.events)
	assert.Equal(t, 1.0, f.metrics.Count("messages", LogTopic, "rejected"))
}

func TestHandleMessage_OtherTopicIgnored(t *testing.T) {
	f := newFixture()
	f.listener.HandleMessage(context.Background(), "ttu_fish/other", []byte(`{"temp":10}`))
	assert.Equal(t, model.Reading{}, f.state.Current())
	assert.Empty(t, f.recorder.readings)
}

func TestHandleMessage_ObserversSeeReadingAndAlerts(t *testing.T) {
	f := newFixture()

	var (
		gotReading model.Reading
		gotFired   []alert.Category
	)
	f.listener.AddObserver(func(r model.Reading, fired []alert.Category) {
		gotReading, gotFired = r, fired
	})

	f.listener.HandleMessage(context.Background(), SensorTopic, []byte(`{"temp":25,"ph":7,"tds":350,"level":300}`))

	assert.Equal(t, 25.0, gotReading.Temperature)
	assert.ElementsMatch(t, []alert.Category{alert.Pump, alert.WaterLevel}, gotFired)
}

func TestHandleMessage_RecoversFromPanic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := NewListener(NewState(), &fakeRecorder{}, panickingEvaluator{}, logger, nil)

	assert.NotPanics(t, func() {
		l.HandleMessage(context.Background(), SensorTopic, []byte(`{"temp":25}`))
	})
}

func TestClientIDHasRandomSuffix(t *testing.T) {
	a, b := clientID("tank-monitor"), clientID("tank-monitor")
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("tank-monitor-")+8)
	assert.Contains(t, clientID(""), "tank-monitor-")
}
