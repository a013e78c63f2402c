package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charlesng35/marketlive/internal/payload"
)

func notificationsPath(scope string) string {
	if scope != ScopeAdmin {
		scope = ScopeUsers
	}
	return "/" + scope + "/notifications"
}

// ListNotifications fetches one page of the notification history as raw records.
func (c *Client) ListNotifications(ctx context.Context, scope string, page, size int) ([]json.RawMessage, error) {
	path := notificationsPath(scope)
	raw, err := c.doJSON(ctx, http.MethodGet, path, path, pageQuery(page, size), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(raw)
}

// UnreadCount returns the server-side unread counter.
func (c *Client) UnreadCount(ctx context.Context, scope string) (int, error) {
	path := notificationsPath(scope) + "/unread-count"
	raw, err := c.doJSON(ctx, http.MethodGet, path, path, nil, nil)
	if err != nil {
		return 0, err
	}
	return decodeCount(raw)
}

// MarkNotificationRead marks a single notification read on the server.
func (c *Client) MarkNotificationRead(ctx context.Context, scope, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("backend: notification id is required")
	}
	base := notificationsPath(scope)
	_, err := c.doJSON(ctx, http.MethodPut, base+"/"+url.PathEscape(id)+"/read", base+"/:id/read", nil, nil)
	return err
}

// MarkAllNotificationsRead marks every notification read on the server.
func (c *Client) MarkAllNotificationsRead(ctx context.Context, scope string) error {
	path := notificationsPath(scope) + "/read-all"
	_, err := c.doJSON(ctx, http.MethodPut, path, path, nil, nil)
	return err
}

func decodeCount(raw json.RawMessage) (int, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, nil
	}
	if n, err := strconv.ParseFloat(strings.Trim(trimmed, `"`), 64); err == nil {
		return int(n), nil
	}
	fields, err := payload.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("backend: decode unread count: %w", err)
	}
	n, ok := fields.Int("count", "unreadCount", "unread", "total")
	if !ok {
		return 0, fmt.Errorf("backend: unread count missing from response")
	}
	return int(n), nil
}
