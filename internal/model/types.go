package model

import "time"

// Reading is the latest known state of the tank sensors.
type Reading struct {
	Temperature  float64 `json:"temp"`
	TDS          float64 `json:"tds"`
	PH           float64 `json:"ph"`
	Turbidity    float64 `json:"turbidity"`
	TurbidityNTU int     `json:"turbidity_ntu"`
	WaterLevel   int     `json:"water_level"`
}

// SensorLog is a persisted Reading snapshot.
type SensorLog struct {
	Timestamp string `json:"timestamp"`
	Reading
}

// SystemEvent is an operational event row. Timestamp uses the store's local layout.
type SystemEvent struct {
	Timestamp string `json:"timestamp"`
	EventType string `json:"event_type"`
	Message   string `json:"message"`
}

// Event types written by the server itself.
const (
	EventTypeInfo  = "INFO"
	EventTypeAlarm = "ALARM"
)

// Settings is the user-editable configuration persisted as JSON.
type Settings struct {
	RTSPURL          string `json:"rtsp_url"`
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   string `json:"telegram_chat_id"`
}

// SettingsPatch carries a partial settings update; nil fields are left untouched.
type SettingsPatch struct {
	RTSPURL          *string `json:"rtsp_url"`
	TelegramBotToken *string `json:"telegram_bot_token"`
	TelegramChatID   *string `json:"telegram_chat_id"`
}

// LiveUpdate is pushed to websocket clients whenever a reading is ingested.
type LiveUpdate struct {
	Reading    Reading   `json:"reading"`
	ReceivedAt time.Time `json:"received_at"`
	Alerts     []string  `json:"alerts,omitempty"`
}
