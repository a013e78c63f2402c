package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/marketlive/internal/chat"
	appErrors "github.com/charlesng35/marketlive/pkg/errors"
	"github.com/charlesng35/marketlive/pkg/response"
)

const maxUploadBytes = 25 << 20

// ConversationHandler exposes the chat session.
type ConversationHandler struct {
	chat *chat.Session
}

type sendMessageRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// NewConversationHandler constructs a ConversationHandler.
func NewConversationHandler(session *chat.Session) (*ConversationHandler, error) {
	if session == nil {
		return nil, errors.New("conversation handler: chat session is required")
	}
	return &ConversationHandler{chat: session}, nil
}

// List returns the inbox ordered by recent activity. `?refresh=true` reloads from the backend.
func (h *ConversationHandler) List(c *gin.Context) {
	ctx := requestContext(c)
	if parseBoolQuery(c, "refresh") {
		if err := h.chat.LoadConversations(ctx); err != nil {
			writeError(c, err)
			return
		}
	}

	items := h.chat.Conversations()
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{
		Total:  len(items),
		Unread: h.chat.UnreadTotal(ctx),
	})
}

// Messages fetches the latest history page. `?cached=true` skips the backend.
func (h *ConversationHandler) Messages(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if parseBoolQuery(c, "cached") {
		response.Success(c, http.StatusOK, h.chat.Messages(id))
		return
	}

	messages, err := h.chat.Open(requestContext(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, messages)
}

// Send posts a message. JSON bodies send text; multipart bodies with a `file` part send an
// attachment whose kind is taken from the `type` field.
func (h *ConversationHandler) Send(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	ctx := requestContext(c)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		header, err := c.FormFile("file")
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("file is required"))
			return
		}
		file, err := header.Open()
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("file could not be read"))
			return
		}
		defer file.Close()

		msg, err := h.chat.SendFile(ctx, id, c.PostForm("type"), header.Filename, file)
		if err != nil {
			writeError(c, err)
			return
		}
		response.Success(c, http.StatusAccepted, msg)
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return
	}
	if t := strings.TrimSpace(req.Type); t != "" && !strings.EqualFold(t, chat.TypeText) {
		response.Error(c, appErrors.NewBadRequest("attachments must be sent as multipart/form-data"))
		return
	}

	msg, err := h.chat.SendText(ctx, id, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, msg)
}

// MarkRead zeroes the caller's unread counter for a conversation.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.chat.MarkRead(requestContext(c), id); err != nil {
		writeError(c, err)
		return
	}
	conv, _ := h.chat.Conversation(id)
	response.Success(c, http.StatusOK, conv)
}

// Recall withdraws a previously sent message.
func (h *ConversationHandler) Recall(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	messageID := strings.TrimSpace(c.Param("messageID"))
	if err := h.chat.Recall(requestContext(c), id, messageID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": messageID, "recalled": true})
}
