package transport

import (
	"fmt"
	"net/url"
	"strings"
)

const sockJSRawSuffix = "/websocket"

// NormalizeURL converts an http(s) endpoint into its ws(s) form. With sockjs set, the raw
// websocket path exposed by SockJS servers is appended when missing.
func NormalizeURL(raw string, sockjs bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("transport: url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("transport: parse url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("transport: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("transport: url %q has no host", raw)
	}

	if sockjs {
		path := strings.TrimRight(u.Path, "/")
		if !strings.HasSuffix(path, sockJSRawSuffix) {
			path += sockJSRawSuffix
		}
		u.Path = path
	}

	return u.String(), nil
}
