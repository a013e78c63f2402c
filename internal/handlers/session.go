package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/marketlive/internal/services"
	"github.com/charlesng35/marketlive/pkg/response"
)

// SessionHandler exposes the persisted client session.
type SessionHandler struct {
	live *services.LiveService
}

type signInRequest struct {
	AccessToken string          `json:"accessToken" validate:"required,notblank"`
	User        json.RawMessage `json:"user"`
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(live *services.LiveService) (*SessionHandler, error) {
	if live == nil {
		return nil, errors.New("session handler: live service is required")
	}
	return &SessionHandler{live: live}, nil
}

// Get returns the current session snapshot.
func (h *SessionHandler) Get(c *gin.Context) {
	snap, err := h.live.Snapshot(requestContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// Put stores the token and user, then loads data and opens the realtime channels.
func (h *SessionHandler) Put(c *gin.Context) {
	var req signInRequest
	if !bindAndValidate(c, &req) {
		return
	}

	snap, err := h.live.SignIn(requestContext(c), req.AccessToken, req.User)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// Delete signs out and clears local state.
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.live.SignOut(requestContext(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"authenticated": false})
}
