package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the marketlive agent.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Backend       BackendConfig       `mapstructure:"backend"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Chat          ChatConfig          `mapstructure:"chat"`
	State         StateConfig         `mapstructure:"state"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per client and route. Zero requests disables limiting.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// BackendConfig points at the marketplace REST API.
type BackendConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// RealtimeConfig configures the STOMP transport.
type RealtimeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	// SockJS appends the raw websocket suffix expected by SockJS endpoints.
	SockJS          bool          `mapstructure:"sockjs"`
	Destination     string        `mapstructure:"destination"`
	ChatDestination string        `mapstructure:"chat_destination"`
	SendDestination string        `mapstructure:"send_destination"`
	Heartbeat       time.Duration `mapstructure:"heartbeat"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
}

// NotificationsConfig tunes the notification store.
type NotificationsConfig struct {
	PollSchedule string `mapstructure:"poll_schedule"`
	ListLimit    int    `mapstructure:"list_limit"`
	FetchSize    int    `mapstructure:"fetch_size"`
	// Scope is auto, users, or admin.
	Scope string `mapstructure:"scope"`
}

// ChatConfig tunes the chat session.
type ChatConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
	HistoryPageSize  int `mapstructure:"history_page_size"`
}

// StateConfig selects where the persisted client state lives.
type StateConfig struct {
	Driver        string        `mapstructure:"driver"`
	Path          string        `mapstructure:"path"`
	DSN           string        `mapstructure:"dsn"`
	Postgres      DBAuthConfig  `mapstructure:"postgres"`
	MySQL         DBAuthConfig  `mapstructure:"mysql"`
	Redis         RedisConfig   `mapstructure:"redis"`
	PurgeSchedule string        `mapstructure:"purge_schedule"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	// EncryptionKey seals the stored token and user blob. Empty stores them as-is.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RedisConfig holds Redis connection options for the shared state store.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// A .env file in the working directory is loaded first when present.
func LoadConfig(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("MARKETLIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8790)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.rate_limit.requests", 120)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("backend.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("backend.timeout", "15s")
	v.SetDefault("backend.requests_per_second", 10)
	v.SetDefault("backend.burst", 20)

	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.url", "")
	v.SetDefault("realtime.sockjs", true)
	v.SetDefault("realtime.destination", "/user/queue/notifications")
	v.SetDefault("realtime.chat_destination", "/user/queue/messages")
	v.SetDefault("realtime.send_destination", "/app/send")
	v.SetDefault("realtime.heartbeat", "10s")
	v.SetDefault("realtime.dial_timeout", "10s")

	v.SetDefault("notifications.poll_schedule", "@every 30s")
	v.SetDefault("notifications.list_limit", 10)
	v.SetDefault("notifications.fetch_size", 20)
	v.SetDefault("notifications.scope", "auto")

	v.SetDefault("chat.max_message_length", 2000)
	v.SetDefault("chat.history_page_size", 50)

	v.SetDefault("state.driver", "sqlite")
	v.SetDefault("state.path", "./data/marketlive.sqlite")
	v.SetDefault("state.purge_schedule", "@hourly")
	v.SetDefault("state.token_ttl", "0s")
	v.SetDefault("state.encryption_key", "")
	v.SetDefault("state.redis.enabled", false)
	v.SetDefault("state.redis.address", "127.0.0.1:6379")
	v.SetDefault("state.redis.db", 0)
	v.SetDefault("state.redis.timeout", "5s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
