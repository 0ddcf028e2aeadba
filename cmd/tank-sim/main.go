package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ttufish/tank-monitor/internal/ingest"
)

type options struct {
	broker   string
	username string
	password string
	scenario string
	interval time.Duration
	count    int
	logEvery int
	seed     int64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:   "tank-sim",
		Short: "Publish synthetic tank sensor readings to an MQTT broker",
		Long: fmt.Sprintf("tank-sim publishes readings to %s and occasional events to %s\nso the monitor can be exercised without hardware.",
			ingest.SensorTopic, ingest.LogTopic),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, slog.New(slog.NewTextHandler(os.Stdout, nil)))
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.broker, "broker", "tcp://localhost:1883", "MQTT broker address")
	f.StringVar(&opts.username, "username", "", "MQTT username")
	f.StringVar(&opts.password, "password", "", "MQTT password")
	f.StringVar(&opts.scenario, "scenario", "normal", fmt.Sprintf("reading profile, one of %v", scenarioNames()))
	f.DurationVar(&opts.interval, "interval", 2*time.Second, "interval between published readings")
	f.IntVar(&opts.count, "count", 0, "stop after this many readings (0 runs until interrupted)")
	f.IntVar(&opts.logEvery, "log-every", 10, "publish a log event every N readings (0 disables)")
	f.Int64Var(&opts.seed, "seed", 0, "random seed (0 uses the clock)")

	return cmd
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	gen, err := lookupScenario(opts.scenario)
	if err != nil {
		return err
	}
	if opts.interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	clientID := "tank-sim-" + uuid.NewString()[:8]
	mqttOpts := mqtt.NewClientOptions().AddBroker(opts.broker).SetClientID(clientID)
	if opts.username != "" {
		mqttOpts.SetUsername(opts.username)
	}
	if opts.password != "" {
		mqttOpts.SetPassword(opts.password)
	}

	client := mqtt.NewClient(mqttOpts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to broker: %w", token.Error())
	}
	logger.Info("connected to MQTT broker", "broker", opts.broker, "client_id", clientID, "scenario", opts.scenario)
	defer client.Disconnect(250)

	publish := func(topic string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		token := client.Publish(topic, 0, false, data)
		token.Wait()
		return token.Error()
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for sent := 0; opts.count == 0 || sent < opts.count; {
		reading := gen(rng)
		if err := publish(ingest.SensorTopic, reading); err != nil {
			logger.Warn("publish reading failed", "error", err)
		} else {
			sent++
			logger.Info("published reading", "temp", reading.Temp, "ph", reading.PH, "tds", reading.TDS, "ntu", reading.NTU, "level", reading.Level)

			if opts.logEvery > 0 && sent%opts.logEvery == 0 {
				event := logPayload{EventType: "INFO", Message: fmt.Sprintf("simulator heartbeat (%s, %d readings)", opts.scenario, sent)}
				if err := publish(ingest.LogTopic, event); err != nil {
					logger.Warn("publish event failed", "error", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal, disconnecting")
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
