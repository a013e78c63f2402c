package app

import (
	"fmt"
	"net/url"
	"strings"
)

// ApplyRuntimeDefaults fills derived settings that depend on other values, such as the
// realtime endpoint when only the REST base URL is configured. It returns a map of the
// keys that were derived so callers can log them.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	derived := make(map[string]bool)

	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend.base_url must be configured")
	}
	base, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend.base_url %q is not an absolute URL", cfg.Backend.BaseURL)
	}

	if strings.TrimSpace(cfg.Realtime.URL) == "" {
		// The STOMP endpoint is served from the host root, next to the REST prefix.
		cfg.Realtime.URL = (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/ws"}).String()
		derived["realtime.url"] = true
	}

	if cfg.Notifications.ListLimit <= 0 {
		cfg.Notifications.ListLimit = 10
		derived["notifications.list_limit"] = true
	}
	if cfg.Notifications.FetchSize < cfg.Notifications.ListLimit {
		cfg.Notifications.FetchSize = cfg.Notifications.ListLimit
		derived["notifications.fetch_size"] = true
	}
	if strings.TrimSpace(cfg.Notifications.PollSchedule) == "" {
		cfg.Notifications.PollSchedule = "@every 30s"
		derived["notifications.poll_schedule"] = true
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Notifications.Scope)) {
	case "", "auto":
		cfg.Notifications.Scope = "auto"
	case "users", "admin":
		cfg.Notifications.Scope = strings.ToLower(strings.TrimSpace(cfg.Notifications.Scope))
	default:
		return nil, fmt.Errorf("notifications.scope must be auto, users, or admin (got %q)", cfg.Notifications.Scope)
	}

	return derived, nil
}
