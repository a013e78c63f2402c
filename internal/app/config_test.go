package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "127.0.0.1", cfg.Server.Host)

	require.Equal(t, "https://market.example.com/api/v1", cfg.Backend.BaseURL)
	require.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	require.Equal(t, 4.0, cfg.Backend.RequestsPerSecond)
	require.Equal(t, 20, cfg.Backend.Burst)

	require.False(t, cfg.Realtime.Enabled)
	require.Equal(t, "wss://market.example.com/ws", cfg.Realtime.URL)
	require.True(t, cfg.Realtime.SockJS)
	require.Equal(t, "/app/send", cfg.Realtime.SendDestination)
	require.Equal(t, time.Duration(0), cfg.Realtime.Heartbeat)

	require.Equal(t, "@every 45s", cfg.Notifications.PollSchedule)
	require.Equal(t, 8, cfg.Notifications.ListLimit)
	require.Equal(t, "admin", cfg.Notifications.Scope)
	require.Equal(t, 500, cfg.Chat.MaxMessageLength)
	require.Equal(t, 50, cfg.Chat.HistoryPageSize)

	require.Equal(t, "postgres", cfg.State.Driver)
	require.Equal(t, "db.example.com", cfg.State.Postgres.Host)
	require.True(t, cfg.State.Redis.Enabled)
	require.Equal(t, 5*time.Second, cfg.State.Redis.Timeout)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8790, cfg.Server.Port)
	require.Equal(t, "@every 30s", cfg.Notifications.PollSchedule)
	require.Equal(t, 10, cfg.Notifications.ListLimit)
	require.Equal(t, "/user/queue/notifications", cfg.Realtime.Destination)
	require.Equal(t, "/user/queue/messages", cfg.Realtime.ChatDestination)
	require.Equal(t, "sqlite", cfg.State.Driver)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
}

func TestStateConfigAdapters(t *testing.T) {
	cfg := StateConfig{
		Driver: "PostgreSQL",
		Postgres: DBAuthConfig{
			Host:     " db ",
			Port:     5432,
			Database: "state",
			Username: "agent",
			Password: "pw",
		},
		Redis: RedisConfig{Address: " cache:6379 ", DB: 3, Timeout: time.Second},
	}

	dbCfg := cfg.DatabaseConfig()
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db", dbCfg.Host)
	require.Equal(t, "state", dbCfg.Name)

	redisCfg := cfg.RedisClientConfig()
	require.Equal(t, "cache:6379", redisCfg.Address)
	require.Equal(t, 3, redisCfg.DB)

	require.Equal(t, "sqlite", StateConfig{}.DatabaseConfig().Driver)
}
