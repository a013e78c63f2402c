package handlers_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/marketlive/internal/chat"
	"github.com/charlesng35/marketlive/internal/handlers/testutil"
)

func seedConversations(env *testutil.Env) {
	env.Market.Conversations = []map[string]any{
		{
			"id": "c1", "buyerId": "u1", "sellerId": "s1",
			"buyerName": "Ana", "shopName": "Tea House",
			"lastMessage": "hello", "lastMessageAt": "2026-10-01T10:00:00Z",
			"buyerUnread": 2, "sellerUnread": 0,
		},
		{
			"id": "c2", "buyerId": "u1", "sellerId": "s2",
			"shopName": "Book Nook", "lastMessage": "ok", "lastMessageAt": "2026-10-03T10:00:00Z",
			"buyerUnread": 1,
		},
	}
	env.Market.Messages["c1"] = []map[string]any{
		{"id": "m1", "conversationId": "c1", "senderId": "s1", "type": "text", "content": "hello", "sentAt": "2026-10-01T10:00:00Z"},
	}
}

func TestConversationsList(t *testing.T) {
	env := testutil.NewEnv(t)
	seedConversations(env)
	env.SignIn(map[string]any{"id": "u1", "role": "USER"})

	w := env.Request(http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, 2, resp.Meta.Total)
	require.Equal(t, 3, resp.Meta.Unread)

	var items []chat.Conversation
	testutil.DecodeInto(t, resp.Data, &items)
	require.Equal(t, "c2", items[0].ID)
	require.Equal(t, "Tea House", items[1].CounterpartName)
}

func TestConversationMessagesAndMarkRead(t *testing.T) {
	env := testutil.NewEnv(t)
	seedConversations(env)
	env.SignIn(map[string]any{"id": "u1", "role": "USER"})

	w := env.Request(http.MethodGet, "/api/conversations/c1/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var messages []chat.Message
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &messages)
	require.Len(t, messages, 1)
	require.Equal(t, "m1", messages[0].ID)

	w = env.Request(http.MethodPost, "/api/conversations/c1/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var conv chat.Conversation
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &conv)
	require.Zero(t, conv.BuyerUnread)

	w = env.Request(http.MethodGet, "/api/conversations/c1/messages?cached=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestConversationSendTextFallsBackToREST(t *testing.T) {
	env := testutil.NewEnv(t)
	seedConversations(env)
	env.SignIn(map[string]any{"id": "u1", "role": "USER"})

	w := env.Request(http.MethodPost, "/api/conversations/c1/messages", map[string]any{"content": "is this in stock?"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var msg chat.Message
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &msg)
	require.Equal(t, "srv-1", msg.ID)
	require.False(t, msg.Pending)
	require.Len(t, env.Market.Sent, 1)
	require.Equal(t, "is this in stock?", env.Market.Sent[0]["content"])

	conv, ok := env.Chat.Conversation("c1")
	require.True(t, ok)
	require.Equal(t, "is this in stock?", conv.LastMessage)
}

func TestConversationSendValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	seedConversations(env)
	env.SignIn(map[string]any{"id": "u1", "role": "USER"})

	w := env.Request(http.MethodPost, "/api/conversations/c1/messages", map[string]any{"content": "  "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, testutil.DecodeResponse(t, w).Error.Message, "content is required")

	w = env.Request(http.MethodPost, "/api/conversations/c1/messages", map[string]any{"content": strings.Repeat("x", 2001)})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, testutil.DecodeResponse(t, w).Error.Message, "at most 2000")

	w = env.Request(http.MethodPost, "/api/conversations/c1/messages", map[string]any{"type": "image", "content": "x"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, env.Market.Sent)
}

func TestConversationSendFile(t *testing.T) {
	env := testutil.NewEnv(t)
	seedConversations(env)
	env.SignIn(map[string]any{"id": "u1", "role": "USER"})

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("type", "image"))
	part, err := form.CreateFormFile("file", "teapot.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/c1/messages", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Len(t, env.Market.Sent, 1)
	require.Equal(t, "image", env.Market.Sent[0]["type"])
	require.Equal(t, "https://cdn.example.com/teapot.png", env.Market.Sent[0]["fileUrl"])
}

func TestConversationRecall(t *testing.T) {
	env := testutil.NewEnv(t)
	seedConversations(env)
	env.SignIn(map[string]any{"id": "u1", "role": "USER"})

	w := env.Request(http.MethodPost, "/api/conversations/c1/messages/m1/recall", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"m1"}, env.Market.Recalled)

	w = env.Request(http.MethodPost, "/api/conversations/c1/messages/local-1-abc/recall", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
