package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/marketlive/internal/notifications"
	"github.com/charlesng35/marketlive/pkg/response"
)

// NotificationHandler exposes the notification store.
type NotificationHandler struct {
	store *notifications.Store
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(store *notifications.Store) (*NotificationHandler, error) {
	if store == nil {
		return nil, errors.New("notification handler: store is required")
	}
	return &NotificationHandler{store: store}, nil
}

// List returns the cached notifications, newest first. `?refresh=true` reloads from the backend.
func (h *NotificationHandler) List(c *gin.Context) {
	if parseBoolQuery(c, "refresh") {
		if err := h.store.Load(requestContext(c)); err != nil {
			writeError(c, err)
			return
		}
	}

	items := h.store.Items()
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Total:  len(items),
		Unread: h.store.Unread(),
		Limit:  h.store.Limit(),
	})
}

// Unread returns the unread counter. `?refresh=true` polls the backend first.
func (h *NotificationHandler) Unread(c *gin.Context) {
	if parseBoolQuery(c, "refresh") {
		if err := h.store.RefreshUnread(requestContext(c)); err != nil {
			writeError(c, err)
			return
		}
	}
	response.Success(c, http.StatusOK, gin.H{"unread": h.store.Unread()})
}

// MarkRead marks a single notification as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.store.MarkRead(requestContext(c), id); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id, "unread": h.store.Unread()})
}

// MarkAllRead marks every notification as read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.store.MarkAllRead(requestContext(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"unread": h.store.Unread()})
}
