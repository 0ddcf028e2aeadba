//go:build integration

package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"ttufish/tank-monitor/internal/alert"
	"ttufish/tank-monitor/internal/metrics"
	"ttufish/tank-monitor/internal/model"
)

const mosquittoConf = `listener 1883
allow_anonymous true
`

func startMosquitto(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	conf := filepath.Join(t.TempDir(), "mosquitto.conf")
	require.NoError(t, os.WriteFile(conf, []byte(mosquittoConf), 0o644))

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:2.0",
			ExposedPorts: []string{"1883/tcp"},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto-test.conf"},
			Files: []testcontainers.ContainerFile{{
				HostFilePath:      conf,
				ContainerFilePath: "/mosquitto-test.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForLog("mosquitto version").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "1883")
	require.NoError(t, err)

	return fmt.Sprintf("tcp://%s", net.JoinHostPort(host, port.Port()))
}

func TestListenerReceivesFromBroker(t *testing.T) {
	broker := startMosquitto(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	state := NewState()
	rec := &fakeRecorder{}
	notifier := &countingNotifier{}
	m := metrics.New()
	engine := alert.NewEngine(notifier, rec, logger, m)
	listener := NewListener(state, rec, engine, logger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, listener.Start(ctx, Options{Broker: broker, ClientID: "tank-monitor-it"}))
	defer listener.Stop()

	require.Eventually(t, listener.Connected, 10*time.Second, 50*time.Millisecond)

	pubOpts := mqtt.NewClientOptions().AddBroker(broker).SetClientID("tank-sim-it")
	pub := mqtt.NewClient(pubOpts)
	token := pub.Connect()
	require.True(t, token.WaitTimeout(10*time.Second))
	require.NoError(t, token.Error())
	defer pub.Disconnect(250)

	// The subscription is made from the connect handler, so keep publishing
	// until the first message lands.
	payload := []byte(`{"temp":25,"ph":9,"tds":80,"turbidity":1.5,"ntu":200,"level":520}`)
	require.Eventually(t, func() bool {
		pub.Publish(SensorTopic, 0, false, payload).WaitTimeout(time.Second)
		return state.Current().PH == 9
	}, 10*time.Second, 200*time.Millisecond)

	pub.Publish(LogTopic, 0, false, []byte(`{"event_type":"INFO","message":"feeder ran"}`)).Wait()
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for _, e := range rec.events {
			if e[1] == "feeder ran" {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, model.Reading{Temperature: 25, PH: 9, TDS: 80, Turbidity: 1.5, TurbidityNTU: 200, WaterLevel: 520}, state.Current())
	notifier.mu.Lock()
	assert.Len(t, notifier.sent, 1, "ph alert fires once despite repeated publishes")
	notifier.mu.Unlock()
}
