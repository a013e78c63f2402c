package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/marketlive/internal/api"
	"github.com/charlesng35/marketlive/internal/app"
	"github.com/charlesng35/marketlive/internal/backend"
	"github.com/charlesng35/marketlive/internal/cache"
	"github.com/charlesng35/marketlive/internal/chat"
	"github.com/charlesng35/marketlive/internal/clientstate"
	"github.com/charlesng35/marketlive/internal/monitoring"
	"github.com/charlesng35/marketlive/internal/monitoring/checks"
	"github.com/charlesng35/marketlive/internal/notifications"
	"github.com/charlesng35/marketlive/internal/realtime"
	"github.com/charlesng35/marketlive/internal/services"
	"github.com/charlesng35/marketlive/pkg/response"
)

// Marketplace is an in-process stand-in for the marketplace REST API.
type Marketplace struct {
	mu            sync.Mutex
	Server        *httptest.Server
	Notifications []map[string]any
	UnreadCount   int
	Conversations []map[string]any
	Messages      map[string][]map[string]any
	FailMarkRead  bool
	MarkedRead    []string
	Recalled      []string
	Sent          []map[string]any
	Tokens        []string
}

func newMarketplace(t *testing.T) *Marketplace {
	t.Helper()

	m := &Marketplace{Messages: make(map[string][]map[string]any)}
	r := gin.New()

	ok := func(c *gin.Context, result any) {
		c.JSON(http.StatusOK, gin.H{"code": 1000, "message": "OK", "result": result})
	}
	track := func(c *gin.Context) {
		m.mu.Lock()
		m.Tokens = append(m.Tokens, c.GetHeader("Authorization"))
		m.mu.Unlock()
		c.Next()
	}
	r.Use(track)

	for _, scope := range []string{backend.ScopeUsers, backend.ScopeAdmin} {
		prefix := "/" + scope
		r.GET(prefix+"/notifications", func(c *gin.Context) {
			m.mu.Lock()
			defer m.mu.Unlock()
			ok(c, gin.H{"content": m.Notifications})
		})
		r.GET(prefix+"/notifications/unread-count", func(c *gin.Context) {
			m.mu.Lock()
			defer m.mu.Unlock()
			ok(c, m.UnreadCount)
		})
		r.PUT(prefix+"/notifications/:id/read", func(c *gin.Context) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.FailMarkRead {
				c.JSON(http.StatusInternalServerError, gin.H{"code": 9999, "message": "boom"})
				return
			}
			m.MarkedRead = append(m.MarkedRead, c.Param("id"))
			ok(c, nil)
		})
		r.PUT(prefix+"/notifications/read-all", func(c *gin.Context) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.UnreadCount = 0
			ok(c, nil)
		})
	}

	r.GET("/chat/conversations", func(c *gin.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		ok(c, m.Conversations)
	})
	r.GET("/chat/conversations/:id/messages", func(c *gin.Context) {
		m.mu.Lock()
		defer m.mu.Unlock()
		ok(c, m.Messages[c.Param("id")])
	})
	r.PUT("/chat/conversations/:id/read", func(c *gin.Context) { ok(c, nil) })
	r.POST("/chat/messages", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 1001, "message": "bad"})
			return
		}
		m.mu.Lock()
		m.Sent = append(m.Sent, body)
		body["id"] = fmt.Sprintf("srv-%d", len(m.Sent))
		m.mu.Unlock()
		ok(c, body)
	})
	r.PUT("/chat/messages/:id/recall", func(c *gin.Context) {
		m.mu.Lock()
		m.Recalled = append(m.Recalled, c.Param("id"))
		m.mu.Unlock()
		ok(c, nil)
	})
	r.POST("/chat/upload", func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 1001, "message": "file missing"})
			return
		}
		ok(c, gin.H{"url": "https://cdn.example.com/" + header.Filename})
	})

	m.Server = httptest.NewServer(r)
	t.Cleanup(m.Server.Close)
	return m
}

// Env is a fully wired local API backed by a fake marketplace. Realtime is off.
type Env struct {
	T             *testing.T
	Router        *gin.Engine
	Market        *Marketplace
	State         *clientstate.State
	Live          *services.LiveService
	Notifications *notifications.Store
	Chat          *chat.Session
}

// NewEnv provisions a fresh handler test environment.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	market := newMarketplace(t)
	store := cache.NewMemoryStore()

	state, err := clientstate.New(store)
	require.NoError(t, err)
	client, err := backend.NewClient(market.Server.URL, state, backend.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	require.NoError(t, err)

	notes, err := notifications.NewStore(client)
	require.NoError(t, err)
	session, err := chat.NewSession(client, state)
	require.NoError(t, err)

	hub := realtime.NewHub()
	live, err := services.NewLiveService(services.LiveConfig{
		State:         state,
		Notifications: notes,
		Chat:          session,
		Hub:           hub,
	})
	require.NoError(t, err)
	require.NoError(t, live.Start(context.Background()))
	t.Cleanup(live.Close)

	health := monitoring.NewHealthManager(time.Second)
	health.Register(checks.StateStore(store))
	health.Register(checks.Transport(live))

	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"
	cfg.Server.RateLimit = app.RateLimitConfig{Requests: 1000, Window: time.Minute}

	router, err := api.NewRouter(api.Dependencies{
		Config:        cfg,
		Live:          live,
		Notifications: notes,
		Chat:          session,
		Hub:           hub,
		Health:        health,
		RateStore:     store,
	})
	require.NoError(t, err)

	return &Env{
		T:             t,
		Router:        router,
		Market:        market,
		State:         state,
		Live:          live,
		Notifications: notes,
		Chat:          session,
	}
}

// SignIn stores a session through the API and asserts success.
func (e *Env) SignIn(user map[string]any) {
	e.T.Helper()
	w := e.Request(http.MethodPut, "/api/session", map[string]any{"accessToken": "test-token", "user": user})
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
}

// Request executes an HTTP request against the router, JSON-encoding body when present.
func (e *Env) Request(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}
