package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsDerivesRealtimeURL(t *testing.T) {
	cfg := &Config{Backend: BackendConfig{BaseURL: "https://shop.example.com/api/v1/"}}

	derived, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	require.Equal(t, "https://shop.example.com/api/v1", cfg.Backend.BaseURL)
	require.Equal(t, "https://shop.example.com/ws", cfg.Realtime.URL)
	require.True(t, derived["realtime.url"])
	require.Equal(t, 10, cfg.Notifications.ListLimit)
	require.Equal(t, 10, cfg.Notifications.FetchSize)
	require.Equal(t, "@every 30s", cfg.Notifications.PollSchedule)
	require.Equal(t, "auto", cfg.Notifications.Scope)
}

func TestApplyRuntimeDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Backend:  BackendConfig{BaseURL: "http://localhost:8080"},
		Realtime: RealtimeConfig{URL: "ws://push.local/stomp"},
		Notifications: NotificationsConfig{
			ListLimit:    5,
			FetchSize:    25,
			PollSchedule: "@every 1m",
			Scope:        "ADMIN",
		},
	}

	derived, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, derived)
	require.Equal(t, "ws://push.local/stomp", cfg.Realtime.URL)
	require.Equal(t, 25, cfg.Notifications.FetchSize)
	require.Equal(t, "admin", cfg.Notifications.Scope)
}

func TestApplyRuntimeDefaultsRejectsInvalidInput(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.Error(t, err)

	_, err = ApplyRuntimeDefaults(&Config{})
	require.Error(t, err)

	_, err = ApplyRuntimeDefaults(&Config{Backend: BackendConfig{BaseURL: "not a url"}})
	require.Error(t, err)

	_, err = ApplyRuntimeDefaults(&Config{
		Backend:       BackendConfig{BaseURL: "http://localhost"},
		Notifications: NotificationsConfig{Scope: "everyone"},
	})
	require.Error(t, err)
}
