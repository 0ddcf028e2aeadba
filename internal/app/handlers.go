package app

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"

	"ttufish/tank-monitor/internal/model"
	"ttufish/tank-monitor/internal/notifier"
)

const (
	logsLimit           = 20
	historyDefaultLimit = 50
	historyMaxLimit     = 500
)

//go:embed web/index.html
var webFS embed.FS

var dashboard = template.Must(template.ParseFS(webFS, "web/index.html"))

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/video_feed", a.handleVideoFeed)
	mux.HandleFunc("/api/data", a.handleData)
	mux.HandleFunc("/api/logs", a.handleLogs)
	mux.HandleFunc("/api/log_event", a.handleLogEvent)
	mux.HandleFunc("/api/settings", a.handleSettings)
	mux.HandleFunc("/api/history", a.handleHistory)
	mux.HandleFunc("/api/notify/test", a.handleNotifyTest)
	mux.HandleFunc("/ws", a.handleLive)
	mux.HandleFunc("/", a.handleIndex)
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ready := a.store != nil && a.listener != nil && a.listener.Connected()
	if ready {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		ready = a.store.Ping(ctx) == nil
	}

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	view := struct {
		Data model.Reading
	}{Data: a.state.Current()}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboard.Execute(w, view); err != nil {
		a.logger.Error("render dashboard failed", "error", err)
	}
}

func (a *App) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	a.video.ServeHTTP(w, r)
}

func (a *App) handleLive(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	a.hub.ServeHTTP(w, r)
}

func (a *App) handleData(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	a.writeJSON(w, http.StatusOK, a.state.Current())
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	events, err := a.store.RecentSystemEvents(ctx, logsLimit)
	if err != nil {
		a.logger.Error("failed to load system events", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, events)
}

func (a *App) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var payload struct {
		EventType *string `json:"event_type"`
		Message   *string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload: " + err.Error()})
		return
	}

	eventType, message := model.EventTypeInfo, ""
	if payload.EventType != nil {
		eventType = *payload.EventType
	}
	if payload.Message != nil {
		message = *payload.Message
	}

	a.recorder.RecordEvent(r.Context(), eventType, message)
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *App) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.writeJSON(w, http.StatusOK, a.settings.Get())
	case http.MethodPost:
		a.updateSettings(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch model.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid payload"})
		return
	}

	if _, err := a.settings.Update(patch); err != nil {
		a.logger.Error("failed to persist settings", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "failed to write settings file",
		})
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "settings saved and applied",
	})
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	limit := historyDefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = min(parsed, historyMaxLimit)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rows, err := a.store.RecentSensorLogs(ctx, limit)
	if err != nil {
		a.logger.Error("failed to load sensor history", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	a.writeJSON(w, http.StatusOK, struct {
		Readings []model.SensorLog `json:"readings"`
	}{Readings: rows})
}

func (a *App) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	err := a.notifier.SendTest(r.Context())
	switch {
	case errors.Is(err, notifier.ErrNotConfigured):
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": err.Error()})
	case err != nil:
		a.logger.Warn("test notification failed", "error", err)
		a.writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "message": err.Error()})
	default:
		a.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}
