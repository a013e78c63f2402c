package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/marketlive/internal/clientstate"
	apperrors "github.com/charlesng35/marketlive/pkg/errors"
)

type staticSession struct {
	token    string
	identity *clientstate.Identity
}

func (s staticSession) AccessToken(context.Context) (string, error) { return s.token, nil }

func (s staticSession) Identity(context.Context) (*clientstate.Identity, error) {
	return s.identity, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, session staticSession, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL+"/api/v1/", session, opts...)
	require.NoError(t, err)
	return client
}

func TestListNotificationsUsesScopeAndBearer(t *testing.T) {
	var gotPath, gotAuth, gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"code":1000,"result":{"content":[{"id":"n1"},{"id":"n2"}],"totalElements":2}}`)
	}, staticSession{token: "tok", identity: &clientstate.Identity{ID: "a", Role: clientstate.RoleSystemAdmin}})

	scope := client.ResolveScope(context.Background())
	require.Equal(t, ScopeAdmin, scope)

	items, err := client.ListNotifications(context.Background(), scope, 0, 20)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "/api/v1/admin/notifications", gotPath)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "page=0&size=20", gotQuery)
}

func TestResolveScopeDefaultsToUsers(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {}, staticSession{})
	require.Equal(t, ScopeUsers, client.ResolveScope(context.Background()))

	pinned := newTestClient(t, func(http.ResponseWriter, *http.Request) {}, staticSession{}, WithScope("ADMIN"))
	require.Equal(t, ScopeAdmin, pinned.ResolveScope(context.Background()))
}

func TestUnreadCountShapes(t *testing.T) {
	bodies := map[string]int{
		`{"code":1000,"result":4}`:                4,
		`{"code":1000,"result":{"unreadCount":6}}`: 6,
		`7`: 7,
	}
	for body, want := range bodies {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/users/notifications/unread-count", r.URL.Path)
			_, _ = io.WriteString(w, body)
		}, staticSession{token: "tok"})

		got, err := client.UnreadCount(context.Background(), ScopeUsers)
		require.NoError(t, err, body)
		require.Equal(t, want, got, body)
	}
}

func TestBusinessCodeMapsToLocalizedMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":3103,"message":"RECALL_EXPIRED"}`)
	}, staticSession{token: "tok"})

	err := client.RecallMessage(context.Background(), "m1")
	require.Error(t, err)

	appErr := AsAppError(err)
	require.Equal(t, apperrors.MessageForCode(apperrors.CodeRecallExpired), appErr.Message)
	require.Equal(t, http.StatusBadRequest, appErr.StatusCode)
}

func TestFailureCodeInsideSuccessfulResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":4242,"message":"boom"}`)
	}, staticSession{token: "tok"})

	_, err := client.ListConversations(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 4242, apiErr.Code)
	require.Equal(t, apperrors.GenericMessage, apiErr.AppError().Message)
}

func TestUnauthorizedMatchesSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, staticSession{})

	err := client.MarkAllNotificationsRead(context.Background(), ScopeUsers)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestTransportErrorMapsToUnavailable(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1", staticSession{})
	require.NoError(t, err)

	_, err = client.ListConversations(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, AsAppError(err), apperrors.ErrBackendUnavailable)
}

func TestUploadChatFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/chat/upload", r.URL.Path)
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		require.Equal(t, "photo.png", header.Filename)
		require.Equal(t, "PNG", string(data))
		_, _ = io.WriteString(w, `{"code":1000,"result":{"fileUrl":"https://cdn.example.com/photo.png"}}`)
	}, staticSession{token: "tok"})

	url, err := client.UploadChatFile(context.Background(), "../photo.png", strings.NewReader("PNG"))
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/photo.png", url)
}

func TestSendMessageAndConversationRead(t *testing.T) {
	var calls []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPost {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "hello", body["content"])
			_, _ = io.WriteString(w, `{"code":1000,"result":{"id":"srv-1"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"code":1000}`)
	}, staticSession{token: "tok"})

	raw, err := client.SendMessage(context.Background(), map[string]string{"content": "hello"})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"srv-1"}`, string(raw))

	require.NoError(t, client.MarkConversationRead(context.Background(), "c 1"))
	require.Equal(t, []string{"POST /api/v1/chat/messages", "PUT /api/v1/chat/conversations/c 1/read"}, calls)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("", staticSession{})
	require.Error(t, err)
	_, err = NewClient("http://localhost", nil)
	require.Error(t, err)
}

func TestDecodeList(t *testing.T) {
	items, err := decodeList(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Empty(t, items)

	items, err = decodeList(json.RawMessage(`{"data":{"items":[1,2,3]}}`))
	require.NoError(t, err)
	require.Len(t, items, 3)

	_, err = decodeList(json.RawMessage(`{"unexpected":true}`))
	require.Error(t, err)
}
