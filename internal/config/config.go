package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config lists the tunable parameters for the tank monitor process.
// User-editable settings (camera URL, bot credentials) live in the
// settings file instead.
type Config struct {
	HTTPPort     int
	MetricsPort  int
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string
	DatabasePath string
	SettingsPath string
	LogLevel     string
	FFmpegPath   string
	MDNS         bool
	TelegramAPI  string
}

const (
	envPrefix = "FISHTANK"

	defaultHTTPPort     = 5000
	defaultMetricsPort  = 9090
	defaultMQTTBroker   = "tcp://mqttgo.io:1883"
	defaultMQTTClientID = "tank-monitor"
	defaultDatabasePath = "data/fish_system.db"
	defaultSettingsPath = "config.json"
	defaultLogLevel     = "info"
	defaultFFmpegPath   = "ffmpeg"
	defaultTelegramAPI  = "https://api.telegram.org"
)

// Load derives configuration values from FISHTANK_* environment variables,
// falling back to defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_port", strconv.Itoa(defaultHTTPPort))
	v.SetDefault("metrics_port", strconv.Itoa(defaultMetricsPort))
	v.SetDefault("mqtt_broker", defaultMQTTBroker)
	v.SetDefault("mqtt_username", "")
	v.SetDefault("mqtt_password", "")
	v.SetDefault("mqtt_client_id", defaultMQTTClientID)
	v.SetDefault("database_path", defaultDatabasePath)
	v.SetDefault("settings_path", defaultSettingsPath)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("ffmpeg_path", defaultFFmpegPath)
	v.SetDefault("mdns", "true")
	v.SetDefault("telegram_api", defaultTelegramAPI)

	httpPort, err := port(v, "http_port", false)
	if err != nil {
		return Config{}, err
	}
	metricsPort, err := port(v, "metrics_port", true)
	if err != nil {
		return Config{}, err
	}
	mdns, err := strconv.ParseBool(strings.TrimSpace(v.GetString("mdns")))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envName("mdns"), err)
	}

	cfg := Config{
		HTTPPort:     httpPort,
		MetricsPort:  metricsPort,
		MQTTBroker:   v.GetString("mqtt_broker"),
		MQTTUsername: v.GetString("mqtt_username"),
		MQTTPassword: v.GetString("mqtt_password"),
		MQTTClientID: v.GetString("mqtt_client_id"),
		DatabasePath: v.GetString("database_path"),
		SettingsPath: v.GetString("settings_path"),
		LogLevel:     v.GetString("log_level"),
		FFmpegPath:   v.GetString("ffmpeg_path"),
		MDNS:         mdns,
		TelegramAPI:  strings.TrimRight(v.GetString("telegram_api"), "/"),
	}

	if cfg.MQTTBroker == "" {
		return Config{}, fmt.Errorf("%s must not be empty", envName("mqtt_broker"))
	}
	return cfg, nil
}

func port(v *viper.Viper, key string, allowZero bool) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", envName(key), err)
	}
	if p < 0 || p > 65535 || (p == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: port %d out of range", envName(key), p)
	}
	return p, nil
}

func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(key)
}
