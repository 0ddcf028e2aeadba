package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"ttufish/tank-monitor/internal/model"
)

const (
	DefaultRTSPURL        = "rtsp://10.197.186.146:554/11"
	PlaceholderBotToken   = "YOUR_TELEGRAM_BOT_TOKEN"
	PlaceholderChatID     = "YOUR_CHAT_ID"
	settingsFileMode      = 0o644
	settingsDirectoryMode = 0o755
)

// Defaults returns the settings used when no file exists or it cannot be parsed.
func Defaults() model.Settings {
	return model.Settings{
		RTSPURL:          DefaultRTSPURL,
		TelegramBotToken: PlaceholderBotToken,
		TelegramChatID:   PlaceholderChatID,
	}
}

// Store holds the active settings and writes them back to disk on update.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current model.Settings
}

// Load reads settings from path. A missing or corrupt file yields defaults.
func Load(path string, logger *slog.Logger) *Store {
	s := &Store{path: path, logger: logger, current: Defaults()}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("read settings failed, using defaults", "path", path, "error", err)
		}
		return s
	}

	loaded := Defaults()
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logger.Warn("decode settings failed, using defaults", "path", path, "error", err)
		return s
	}

	s.current = loaded
	return s
}

// Get returns a copy of the active settings.
func (s *Store) Get() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Credentials returns the bot token and chat id. ok is false when either is
// empty or still holds the placeholder default.
func (s *Store) Credentials() (token, chatID string, ok bool) {
	cur := s.Get()
	token, chatID = cur.TelegramBotToken, cur.TelegramChatID
	if token == "" || chatID == "" || token == PlaceholderBotToken || chatID == PlaceholderChatID {
		return token, chatID, false
	}
	return token, chatID, true
}

// RTSPURL returns the configured video source address.
func (s *Store) RTSPURL() string {
	return s.Get().RTSPURL
}

// Update merges patch into the active settings and persists the result.
// The active settings only change when the file write succeeds.
func (s *Store) Update(patch model.SettingsPatch) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if patch.RTSPURL != nil {
		next.RTSPURL = *patch.RTSPURL
	}
	if patch.TelegramBotToken != nil {
		next.TelegramBotToken = *patch.TelegramBotToken
	}
	if patch.TelegramChatID != nil {
		next.TelegramChatID = *patch.TelegramChatID
	}

	if err := s.write(next); err != nil {
		return s.current, err
	}

	s.current = next
	s.logger.Info("settings updated", "path", s.path)
	return next, nil
}

func (s *Store) write(v model.Settings) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, settingsDirectoryMode); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, settingsFileMode); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
