package transport

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

type stompFrame struct {
	command string
	headers map[string]string
	body    string
}

func parseFrame(data []byte) (stompFrame, bool) {
	data = bytes.TrimLeft(data, "\r\n")
	data = bytes.TrimRight(data, "\x00")
	if len(data) == 0 {
		return stompFrame{}, false
	}
	head, body, _ := strings.Cut(string(data), "\n\n")
	lines := strings.Split(head, "\n")
	frame := stompFrame{command: strings.TrimSpace(lines[0]), headers: map[string]string{}, body: body}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if ok {
			if _, seen := frame.headers[key]; !seen {
				frame.headers[key] = value
			}
		}
	}
	return frame, true
}

// fakeBroker is a minimal STOMP-over-websocket server for adapter tests.
type fakeBroker struct {
	t        *testing.T
	server   *httptest.Server
	upgrader websocket.Upgrader

	handshakeStatus int
	connectReply    string

	upgrades atomic.Int32

	mu         sync.Mutex
	conn       *websocket.Conn
	subID      string
	subDest    string
	authHeader string
	sent       []stompFrame
	subscribed chan struct{}
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{
		t:          t,
		subscribed: make(chan struct{}),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBroker) URL() string {
	return b.server.URL + "/ws"
}

func (b *fakeBroker) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws/websocket" {
		http.NotFound(w, r)
		return
	}
	if b.handshakeStatus != 0 {
		w.WriteHeader(b.handshakeStatus)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b.upgrades.Add(1)

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, ok := parseFrame(data)
		if !ok {
			continue
		}

		switch frame.command {
		case "CONNECT", "STOMP":
			b.mu.Lock()
			b.authHeader = frame.headers["Authorization"]
			b.mu.Unlock()
			reply := b.connectReply
			if reply == "" {
				reply = "CONNECTED\nversion:1.2\nheart-beat:0,0\n\n\x00"
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
		case "SUBSCRIBE":
			b.mu.Lock()
			b.subID = frame.headers["id"]
			b.subDest = frame.headers["destination"]
			b.mu.Unlock()
			close(b.subscribed)
		case "SEND":
			b.mu.Lock()
			b.sent = append(b.sent, frame)
			b.mu.Unlock()
		}
		if receipt := frame.headers["receipt"]; receipt != "" {
			b.mu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, []byte("RECEIPT\nreceipt-id:"+receipt+"\n\n\x00"))
			b.mu.Unlock()
		}
	}
}

func (b *fakeBroker) push(body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	frame := fmt.Sprintf("MESSAGE\ndestination:%s\nsubscription:%s\nmessage-id:m-1\ncontent-type:application/json\n\n%s\x00", b.subDest, b.subID, body)
	_ = b.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (b *fakeBroker) dropConnection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.conn.UnderlyingConn().Close()
}

func (b *fakeBroker) sentFrames() []stompFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]stompFrame(nil), b.sent...)
}
