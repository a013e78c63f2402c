package transport

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// wsStream exposes a websocket as the byte stream the STOMP client expects. Outgoing
// bytes are buffered until a frame terminator so each STOMP frame travels as one text
// message; bare EOL heart-beats are flushed as they come.
type wsStream struct {
	conn *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex
	pending bytes.Buffer

	closeOnce sync.Once
	stateMu   sync.Mutex
	closeCode int
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if s.reader == nil {
			messageType, reader, err := s.conn.NextReader()
			if err != nil {
				s.recordClose(err)
				return 0, err
			}
			if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
				continue
			}
			s.reader = reader
		}

		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.pending.Write(p)

	for {
		data := s.pending.Bytes()
		idx := bytes.IndexByte(data, 0)
		if idx < 0 {
			break
		}
		if err := s.send(data[:idx+1]); err != nil {
			return 0, err
		}
		s.pending.Next(idx + 1)
	}

	if s.pending.Len() > 0 && len(bytes.Trim(s.pending.Bytes(), "\r\n")) == 0 {
		if err := s.send(s.pending.Bytes()); err != nil {
			return 0, err
		}
		s.pending.Reset()
	}

	return len(p), nil
}

func (s *wsStream) send(frame []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a normal close frame and releases the socket.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) recordClose(err error) {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return
	}
	s.stateMu.Lock()
	if s.closeCode == 0 {
		s.closeCode = closeErr.Code
	}
	s.stateMu.Unlock()
}

// CloseCode returns the websocket close code observed while reading, or 0.
func (s *wsStream) CloseCode() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.closeCode
}
