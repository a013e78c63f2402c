package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/marketlive/pkg/logger"
	"github.com/charlesng35/marketlive/pkg/metrics"
)

// State describes where an Adapter is in its single-attempt lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateDisabled   State = "disabled"
	StateClosed     State = "closed"
)

var (
	// ErrNoToken is returned when no bearer token is available. The attempt is not consumed.
	ErrNoToken = errors.New("transport: no access token")
	// ErrAttemptUsed is returned once the single connection attempt has been made.
	ErrAttemptUsed = errors.New("transport: connection already attempted")
	// ErrDisabled is returned after an authentication failure or abnormal close.
	ErrDisabled = errors.New("transport: realtime disabled")
	// ErrNotConnected is returned by Send when there is no live session.
	ErrNotConnected = errors.New("transport: not connected")
)

const (
	defaultDialTimeout = 10 * time.Second
	disconnectTimeout  = 2 * time.Second
)

// Close codes that permanently disable the adapter.
var abnormalCloseCodes = map[int]struct{}{
	websocket.CloseProtocolError:     {},
	websocket.CloseAbnormalClosure:   {},
	websocket.ClosePolicyViolation:   {},
	websocket.CloseInternalServerErr: {},
}

// Message is an inbound frame delivered on the subscribed destination.
type Message struct {
	Destination string
	ContentType string
	Headers     map[string]string
	Body        []byte
	ReceivedAt  time.Time
}

// Handler receives inbound messages. It runs on the adapter's delivery goroutine.
type Handler func(Message)

// TokenSource provides the bearer token consulted before the connection attempt.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config describes one realtime connection and its single subscription.
type Config struct {
	// Name labels the adapter in logs and metrics.
	Name        string
	URL         string
	SockJS      bool
	Destination string
	Heartbeat   time.Duration
	DialTimeout time.Duration
}

// Adapter owns one STOMP connection attempt per lifetime, gated on a bearer token. It
// subscribes to exactly one destination and never retries.
type Adapter struct {
	cfg     Config
	target  string
	tokens  TokenSource
	handler Handler
	dialer  *websocket.Dialer
	log     *zap.Logger

	mu        sync.Mutex
	state     State
	attempted bool
	conn      *stomp.Conn
	sub       *stomp.Subscription
	stream    *wsStream
	closing   bool
	done      chan struct{}
	doneOnce  sync.Once
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(a *Adapter) {
		if dialer != nil {
			a.dialer = dialer
		}
	}
}

// New validates the configuration and returns an idle adapter.
func New(cfg Config, tokens TokenSource, handler Handler, opts ...Option) (*Adapter, error) {
	if tokens == nil {
		return nil, errors.New("transport: token source is required")
	}
	if strings.TrimSpace(cfg.Destination) == "" {
		return nil, errors.New("transport: destination is required")
	}
	target, err := NormalizeURL(cfg.URL, cfg.SockJS)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Destination
	}
	if handler == nil {
		handler = func(Message) {}
	}

	adapter := &Adapter{
		cfg:     cfg,
		target:  target,
		tokens:  tokens,
		handler: handler,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.DialTimeout},
		log:     logger.WithModule("transport").With(zap.String("adapter", cfg.Name)),
		state:   StateIdle,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(adapter)
	}
	return adapter, nil
}

// State reports the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Done is closed once the adapter can no longer deliver messages: the session ended, the
// attempt failed, or Close was called.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

func (a *Adapter) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

// Connect performs the single connection attempt. Without a token nothing is dialled and
// the attempt remains available.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	switch {
	case a.state == StateDisabled:
		a.mu.Unlock()
		return ErrDisabled
	case a.attempted:
		a.mu.Unlock()
		return ErrAttemptUsed
	}
	a.mu.Unlock()

	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("transport: read token: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		metrics.TransportAttempts.WithLabelValues("skipped").Inc()
		a.log.Debug("no access token, skipping realtime connection")
		return ErrNoToken
	}

	a.mu.Lock()
	if a.attempted || a.state == StateDisabled {
		a.mu.Unlock()
		return ErrAttemptUsed
	}
	a.attempted = true
	a.state = StateConnecting
	a.mu.Unlock()

	if err := a.establish(ctx, token); err != nil {
		metrics.TransportAttempts.WithLabelValues("failed").Inc()
		return err
	}
	metrics.TransportAttempts.WithLabelValues("connected").Inc()
	return nil
}

func (a *Adapter) establish(ctx context.Context, token string) error {
	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := a.dialer.DialContext(dialCtx, a.target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			a.fail(StateDisabled, "realtime handshake rejected", err)
			return fmt.Errorf("%w: handshake unauthorized", ErrDisabled)
		}
		a.fail(StateClosed, "realtime dial failed", err)
		return fmt.Errorf("transport: dial: %w", err)
	}

	stream := newWSStream(ws)
	host := ""
	if u, err := url.Parse(a.target); err == nil {
		host = u.Hostname()
	}

	conn, err := stomp.Connect(stream,
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.Header("Authorization", "Bearer "+token),
		stomp.ConnOpt.HeartBeat(a.cfg.Heartbeat, a.cfg.Heartbeat),
	)
	if err != nil {
		_ = stream.Close()
		if unauthorized(err) || a.abnormal(stream.CloseCode()) {
			a.fail(StateDisabled, "realtime connect rejected", err)
			return fmt.Errorf("%w: %v", ErrDisabled, err)
		}
		a.fail(StateClosed, "realtime connect failed", err)
		return fmt.Errorf("transport: stomp connect: %w", err)
	}

	sub, err := conn.Subscribe(a.cfg.Destination, stomp.AckAuto)
	if err != nil {
		_ = conn.MustDisconnect()
		_ = stream.Close()
		a.fail(StateClosed, "realtime subscribe failed", err)
		return fmt.Errorf("transport: subscribe %s: %w", a.cfg.Destination, err)
	}

	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		_ = sub.Unsubscribe()
		_ = conn.MustDisconnect()
		_ = stream.Close()
		a.finish()
		return ErrNotConnected
	}
	a.conn = conn
	a.sub = sub
	a.stream = stream
	a.state = StateConnected
	a.mu.Unlock()

	metrics.TransportConnected.Inc()
	a.log.Info("realtime connected",
		zap.String("url", a.target),
		zap.String("destination", a.cfg.Destination),
	)

	go a.deliver(sub, stream)
	return nil
}

func (a *Adapter) deliver(sub *stomp.Subscription, stream *wsStream) {
	defer a.finish()
	defer metrics.TransportConnected.Dec()

	for msg := range sub.C {
		if msg == nil {
			continue
		}
		if msg.Err != nil {
			a.terminate(stream, msg.Err)
			return
		}
		metrics.PushMessages.WithLabelValues(msg.Destination).Inc()
		a.handler(toMessage(msg))
	}
	a.terminate(stream, nil)
}

func (a *Adapter) terminate(stream *wsStream, cause error) {
	code := stream.CloseCode()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.conn = nil
	a.sub = nil
	a.stream = nil
	if a.closing || a.state == StateDisabled {
		return
	}
	if a.abnormal(code) || unauthorized(cause) {
		a.state = StateDisabled
		a.log.Warn("realtime connection lost, disabling", zap.Int("close_code", code), zap.Error(cause))
		return
	}
	a.state = StateClosed
	a.log.Info("realtime connection ended", zap.Int("close_code", code), zap.Error(cause))
}

func (a *Adapter) fail(state State, msg string, err error) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	a.log.Warn(msg, zap.String("url", a.target), zap.Error(err))
	a.finish()
}

func (a *Adapter) abnormal(code int) bool {
	_, ok := abnormalCloseCodes[code]
	return ok
}

// unauthorized reports whether err carries a STOMP ERROR frame rejecting the credentials.
// Only the frame's status headers and the words of its message header are considered.
func unauthorized(err error) bool {
	f := errorFrame(err)
	if f == nil || f.Header == nil {
		return false
	}
	for _, key := range []string{"status", "code"} {
		if strings.TrimSpace(f.Header.Get(key)) == "401" {
			return true
		}
	}
	words := strings.FieldsFunc(strings.ToLower(f.Header.Get(frame.Message)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		switch word {
		case "401", "unauthorized", "unauthenticated":
			return true
		}
	}
	return false
}

func errorFrame(err error) *frame.Frame {
	var f *frame.Frame
	var byValue stomp.Error
	var byRef *stomp.Error
	switch {
	case errors.As(err, &byRef) && byRef != nil:
		f = byRef.Frame
	case errors.As(err, &byValue):
		f = byValue.Frame
	}
	if f == nil || f.Command != frame.ERROR {
		return nil
	}
	return f
}

func toMessage(msg *stomp.Message) Message {
	out := Message{
		Destination: msg.Destination,
		ContentType: msg.ContentType,
		Body:        msg.Body,
		ReceivedAt:  time.Now(),
		Headers:     make(map[string]string),
	}
	if msg.Header != nil {
		for i := 0; i < msg.Header.Len(); i++ {
			key, value := msg.Header.GetAt(i)
			if _, seen := out.Headers[key]; !seen {
				out.Headers[key] = value
			}
		}
	}
	return out
}

// Send publishes body to destination. It is fire-and-forget: errors are logged and returned
// but never retried.
func (a *Adapter) Send(destination string, body []byte, headers map[string]string) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	opts := make([]func(*frame.Frame) error, 0, len(headers))
	for key, value := range headers {
		opts = append(opts, stomp.SendOpt.Header(key, value))
	}
	if err := conn.Send(destination, "application/json", body, opts...); err != nil {
		a.log.Warn("realtime send failed", zap.String("destination", destination), zap.Error(err))
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Close ends the session best-effort. Errors are logged, never returned.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return
	}
	a.closing = true
	conn, sub, stream := a.conn, a.sub, a.stream
	if a.state != StateDisabled {
		a.state = StateClosed
	}
	a.mu.Unlock()
	defer a.finish()

	if conn == nil {
		return
	}

	result := make(chan error, 1)
	go func() {
		if sub != nil {
			if err := sub.Unsubscribe(); err != nil {
				a.log.Debug("unsubscribe failed", zap.Error(err))
			}
		}
		result <- conn.Disconnect()
	}()
	select {
	case err := <-result:
		if err != nil {
			a.log.Debug("disconnect failed", zap.Error(err))
		}
	case <-time.After(disconnectTimeout):
		a.log.Debug("disconnect timed out")
		_ = conn.MustDisconnect()
	}

	if stream != nil {
		if err := stream.Close(); err != nil {
			a.log.Debug("socket close failed", zap.Error(err))
		}
	}
}
