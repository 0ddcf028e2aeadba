package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/grandcat/zeroconf"

	"ttufish/tank-monitor/internal/alert"
	"ttufish/tank-monitor/internal/config"
	"ttufish/tank-monitor/internal/ingest"
	"ttufish/tank-monitor/internal/live"
	"ttufish/tank-monitor/internal/metrics"
	"ttufish/tank-monitor/internal/notifier"
	"ttufish/tank-monitor/internal/settings"
	"ttufish/tank-monitor/internal/store"
	"ttufish/tank-monitor/internal/video"
)

const (
	shutdownTimeout = 5 * time.Second
	requestTimeout  = 2 * time.Second
)

// testSender sends a one-off notification for the settings page.
type testSender interface {
	SendTest(ctx context.Context) error
}

// App wires together the tank monitor services and manages their lifecycle.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	settings *settings.Store
	store    *store.Store
	recorder *store.Recorder
	notifier testSender
	state    *ingest.State
	listener *ingest.Listener
	hub      *live.Hub
	video    http.Handler
	mdns     *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.metrics = metrics.New()
	a.settings = settings.Load(a.cfg.SettingsPath, a.logger.With("component", "settings"))

	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db
	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	a.recorder = store.NewRecorder(a.store, a.logger.With("component", "store"), a.metrics)

	n := notifier.New(a.settings, a.cfg.TelegramAPI, a.logger.With("component", "notifier"), a.metrics)
	a.notifier = n
	go n.Run(ctx)

	engine := alert.NewEngine(n, a.recorder, a.logger.With("component", "alert"), a.metrics)

	a.state = ingest.NewState()
	a.hub = live.NewHub(a.logger.With("component", "live"), a.metrics)
	defer a.hub.Close()

	a.listener = ingest.NewListener(a.state, a.recorder, engine, a.logger.With("component", "ingest"), a.metrics)
	a.listener.AddObserver(a.hub.Publish)

	relay := video.NewRelay(
		video.NewFFmpegOpener(a.cfg.FFmpegPath, a.logger.With("component", "ffmpeg")),
		a.settings.RTSPURL,
		a.logger.With("component", "video"),
		a.metrics,
	)
	a.video = relay
	defer func() {
		if cerr := relay.Close(); cerr != nil {
			a.logger.Warn("close video relay", "error", cerr)
		}
	}()

	if err := a.listener.Start(ctx, ingest.Options{
		Broker:   a.cfg.MQTTBroker,
		ClientID: a.cfg.MQTTClientID,
		Username: a.cfg.MQTTUsername,
		Password: a.cfg.MQTTPassword,
	}); err != nil {
		return err
	}
	defer func() {
		a.listener.Stop()
		a.logger.Info("mqtt client disconnected")
	}()

	errCh := make(chan error, 2)
	baseCtx := func(net.Listener) context.Context { return ctx }

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       baseCtx,
	}
	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if a.cfg.MetricsPort > 0 {
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.MetricsPort),
			Handler:           a.metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			BaseContext:       baseCtx,
		}
		go func() {
			a.logger.Info("metrics server started", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.cfg.MDNS {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.shutdown(httpServer, metricsServer)
		return err
	}

	if err := a.shutdown(httpServer, metricsServer); err != nil {
		return err
	}
	a.logger.Info("http server stopped")
	return nil
}

func (a *App) shutdown(servers ...*http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
