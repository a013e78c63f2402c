package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	"github.com/stretchr/testify/require"
)

type tokenFunc func() string

func (f tokenFunc) AccessToken(context.Context) (string, error) { return f(), nil }

func staticToken(token string) TokenSource {
	return tokenFunc(func() string { return token })
}

func newTestAdapter(t *testing.T, broker *fakeBroker, tokens TokenSource, handler Handler) *Adapter {
	t.Helper()
	adapter, err := New(Config{
		Name:        "notifications",
		URL:         broker.URL(),
		SockJS:      true,
		Destination: "/user/queue/notifications",
		DialTimeout: 2 * time.Second,
	}, tokens, handler)
	require.NoError(t, err)
	t.Cleanup(adapter.Close)
	return adapter
}

func TestConnectWithoutTokenMakesNoAttempt(t *testing.T) {
	broker := newFakeBroker(t)

	var mu sync.Mutex
	token := ""
	tokens := tokenFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		return token
	})
	adapter := newTestAdapter(t, broker, tokens, nil)

	err := adapter.Connect(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
	require.Equal(t, StateIdle, adapter.State())
	require.Zero(t, broker.upgrades.Load())

	mu.Lock()
	token = "tok"
	mu.Unlock()

	require.NoError(t, adapter.Connect(context.Background()))
	require.Equal(t, StateConnected, adapter.State())
	require.EqualValues(t, 1, broker.upgrades.Load())
}

func TestConnectSubscribesAndDeliversMessages(t *testing.T) {
	broker := newFakeBroker(t)

	received := make(chan Message, 1)
	adapter := newTestAdapter(t, broker, staticToken("tok"), func(msg Message) {
		received <- msg
	})

	require.NoError(t, adapter.Connect(context.Background()))

	select {
	case <-broker.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not received")
	}
	require.Equal(t, "/user/queue/notifications", broker.subDest)
	require.Equal(t, "Bearer tok", broker.authHeader)

	broker.push(`{"id":"n1","title":"Hello"}`)

	select {
	case msg := <-received:
		require.Equal(t, "/user/queue/notifications", msg.Destination)
		require.JSONEq(t, `{"id":"n1","title":"Hello"}`, string(msg.Body))
		require.Equal(t, "m-1", msg.Headers["message-id"])
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, adapter.Send("/app/send", []byte(`{"content":"hi"}`), map[string]string{"client-message-id": "c-1"}))
	require.Eventually(t, func() bool { return len(broker.sentFrames()) == 1 }, 2*time.Second, 10*time.Millisecond)
	sent := broker.sentFrames()[0]
	require.Equal(t, "/app/send", sent.headers["destination"])
	require.Equal(t, "c-1", sent.headers["client-message-id"])
	require.Equal(t, `{"content":"hi"}`, sent.body)

	require.ErrorIs(t, adapter.Connect(context.Background()), ErrAttemptUsed)

	adapter.Close()
	require.Equal(t, StateClosed, adapter.State())
	require.ErrorIs(t, adapter.Send("/app/send", []byte(`{}`), nil), ErrNotConnected)
}

func TestUnauthorizedHandshakeDisables(t *testing.T) {
	broker := newFakeBroker(t)
	broker.handshakeStatus = 401

	adapter := newTestAdapter(t, broker, staticToken("tok"), nil)

	err := adapter.Connect(context.Background())
	require.ErrorIs(t, err, ErrDisabled)
	require.Equal(t, StateDisabled, adapter.State())
	require.ErrorIs(t, adapter.Connect(context.Background()), ErrDisabled)
}

func TestStompErrorFrameDisables(t *testing.T) {
	broker := newFakeBroker(t)
	broker.connectReply = "ERROR\nmessage:401 Unauthorized\n\nInvalid token\x00"

	adapter := newTestAdapter(t, broker, staticToken("expired"), nil)

	err := adapter.Connect(context.Background())
	require.ErrorIs(t, err, ErrDisabled)
	require.Equal(t, StateDisabled, adapter.State())
}

func TestAbnormalCloseDisables(t *testing.T) {
	broker := newFakeBroker(t)
	adapter := newTestAdapter(t, broker, staticToken("tok"), nil)

	require.NoError(t, adapter.Connect(context.Background()))
	<-broker.subscribed

	broker.dropConnection()

	select {
	case <-adapter.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("adapter did not observe the dropped connection")
	}
	require.Equal(t, StateDisabled, adapter.State())
	require.ErrorIs(t, adapter.Connect(context.Background()), ErrDisabled)
}

func TestDialFailureConsumesAttempt(t *testing.T) {
	adapter, err := New(Config{
		URL:         "http://127.0.0.1:1/ws",
		SockJS:      true,
		Destination: "/user/queue/messages",
		DialTimeout: time.Second,
	}, staticToken("tok"), nil)
	require.NoError(t, err)

	require.Error(t, adapter.Connect(context.Background()))
	require.Equal(t, StateClosed, adapter.State())
	require.ErrorIs(t, adapter.Connect(context.Background()), ErrAttemptUsed)
	requireDone(t, adapter)

	adapter.Close()
}

func TestDoneClosesWithoutLiveSession(t *testing.T) {
	broker := newFakeBroker(t)

	idle := newTestAdapter(t, broker, staticToken(""), nil)
	require.ErrorIs(t, idle.Connect(context.Background()), ErrNoToken)
	select {
	case <-idle.Done():
		t.Fatal("done closed while the attempt is still available")
	default:
	}
	idle.Close()
	requireDone(t, idle)
	idle.Close()

	broker.handshakeStatus = 401
	rejected := newTestAdapter(t, broker, staticToken("tok"), nil)
	require.ErrorIs(t, rejected.Connect(context.Background()), ErrDisabled)
	requireDone(t, rejected)
}

func TestStompErrorFrameWithoutAuthFailureDoesNotDisable(t *testing.T) {
	broker := newFakeBroker(t)
	broker.connectReply = "ERROR\nmessage:broker node 14010 overloaded\n\n\x00"

	adapter := newTestAdapter(t, broker, staticToken("tok"), nil)

	err := adapter.Connect(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDisabled)
	require.Equal(t, StateClosed, adapter.State())
}

func TestUnauthorizedOnlyTrustsErrorFrames(t *testing.T) {
	require.False(t, unauthorized(nil))
	require.False(t, unauthorized(errors.New("dial tcp 127.0.0.1:401: connection refused")))
	require.False(t, unauthorized(stomp.Error{Message: "401 Unauthorized"}))

	rejected := frame.New(frame.ERROR, frame.Message, "401 Unauthorized")
	require.True(t, unauthorized(stomp.Error{Message: "401 Unauthorized", Frame: rejected}))
	require.True(t, unauthorized(fmt.Errorf("wrapped: %w", &stomp.Error{Frame: frame.New(frame.ERROR, "status", "401")})))

	other := frame.New(frame.ERROR, frame.Message, "queue 4010 full")
	require.False(t, unauthorized(stomp.Error{Message: "queue 4010 full", Frame: other}))
}

func requireDone(t *testing.T, adapter *Adapter) {
	t.Helper()
	select {
	case <-adapter.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("done channel not closed")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{URL: "http://x", Destination: "/q"}, nil, nil)
	require.Error(t, err)
	_, err = New(Config{URL: "http://x"}, staticToken("t"), nil)
	require.Error(t, err)
	_, err = New(Config{URL: "ftp://x", Destination: "/q"}, staticToken("t"), nil)
	require.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in     string
		sockjs bool
		want   string
	}{
		{"http://localhost:8080/ws", true, "ws://localhost:8080/ws/websocket"},
		{"https://shop.example.com/ws/", true, "wss://shop.example.com/ws/websocket"},
		{"wss://shop.example.com/ws/websocket", true, "wss://shop.example.com/ws/websocket"},
		{"ws://localhost/stomp", false, "ws://localhost/stomp"},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in, tc.sockjs)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}

	_, err := NormalizeURL("", false)
	require.Error(t, err)
	_, err = NormalizeURL("http:///path", false)
	require.Error(t, err)
}
