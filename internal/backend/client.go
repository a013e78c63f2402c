package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/charlesng35/marketlive/internal/clientstate"
	"github.com/charlesng35/marketlive/pkg/logger"
	"github.com/charlesng35/marketlive/pkg/metrics"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 8 << 20
)

// Notification scopes. Admin roles read their feed from /admin, everyone else from /users.
const (
	ScopeAuto  = "auto"
	ScopeUsers = "users"
	ScopeAdmin = "admin"
)

// Session supplies the bearer token and identity for each request.
type Session interface {
	AccessToken(ctx context.Context) (string, error)
	Identity(ctx context.Context) (*clientstate.Identity, error)
}

// Client calls the marketplace REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    Session
	limiter    *rate.Limiter
	scope      string
	log        *zap.Logger
}

// Option configures optional client behaviour.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit caps outgoing requests. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithScope pins the notification scope instead of deriving it from the identity.
func WithScope(scope string) Option {
	return func(c *Client) {
		scope = strings.ToLower(strings.TrimSpace(scope))
		if scope != "" {
			c.scope = scope
		}
	}
}

// NewClient builds a client for the API rooted at baseURL (for example http://host/api/v1).
func NewClient(baseURL string, session Session, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid base url: %w", err)
	}
	if session == nil {
		return nil, errors.New("backend: session is required")
	}

	client := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		session:    session,
		scope:      ScopeAuto,
		log:        logger.WithModule("backend"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// ResolveScope returns the notification scope for the current identity.
func (c *Client) ResolveScope(ctx context.Context) string {
	switch c.scope {
	case ScopeUsers, ScopeAdmin:
		return c.scope
	}
	identity, err := c.session.Identity(ctx)
	if err != nil {
		c.log.Debug("identity unavailable, using users scope", zap.Error(err))
		return ScopeUsers
	}
	if identity.IsAdmin() {
		return ScopeAdmin
	}
	return ScopeUsers
}

type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func successCode(code int) bool {
	return code == 0 || code == http.StatusOK || code == 1000
}

type request struct {
	method   string
	path     string
	endpoint string
	query    url.Values
	body     io.Reader
	header   http.Header
}

// do executes the request and returns the envelope result (or the raw body when the
// backend answered without an envelope).
func (c *Client) do(ctx context.Context, req request) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("backend: rate limit wait: %w", err)
		}
	}

	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, req.body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	for key, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	token, err := c.session.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend: read token: %w", err)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.BackendRequests.WithLabelValues(req.method, req.endpoint, "error").Observe(time.Since(started).Seconds())
		return nil, &TransportError{Endpoint: req.endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.BackendRequests.WithLabelValues(req.method, req.endpoint, strconv.Itoa(resp.StatusCode)).Observe(time.Since(started).Seconds())

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &TransportError{Endpoint: req.endpoint, Err: err}
	}

	var env envelope
	hasEnvelope := len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &env) == nil && (env.Code != nil || env.Result != nil)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Endpoint: req.endpoint}
		if hasEnvelope {
			if env.Code != nil {
				apiErr.Code = *env.Code
			}
			apiErr.Message = env.Message
		}
		c.log.Warn("backend request failed",
			zap.String("method", req.method),
			zap.String("endpoint", req.endpoint),
			zap.Int("status", apiErr.Status),
			zap.Int("code", apiErr.Code),
		)
		return nil, apiErr
	}

	if !hasEnvelope {
		return json.RawMessage(body), nil
	}
	if env.Code != nil && !successCode(*env.Code) {
		return nil, &APIError{Status: resp.StatusCode, Code: *env.Code, Message: env.Message, Endpoint: req.endpoint}
	}
	return env.Result, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, endpoint string, query url.Values, payload any) (json.RawMessage, error) {
	req := request{method: method, path: path, endpoint: endpoint, query: query}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("backend: encode payload: %w", err)
		}
		req.body = bytes.NewReader(data)
		req.header = http.Header{"Content-Type": []string{"application/json"}}
	}
	return c.do(ctx, req)
}

// decodeList extracts the item array from either a bare array or a page object.
func decodeList(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var items []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("backend: decode list: %w", err)
		}
		return items, nil
	}

	var page map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, fmt.Errorf("backend: decode page: %w", err)
	}
	for _, key := range []string{"content", "items", "data", "notifications", "conversations", "messages"} {
		if inner, ok := page[key]; ok {
			return decodeList(inner)
		}
	}
	return nil, fmt.Errorf("backend: page object has no item array")
}

func pageQuery(page, size int) url.Values {
	if page < 0 {
		page = 0
	}
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	if size > 0 {
		query.Set("size", strconv.Itoa(size))
	}
	return query
}
