package ws

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the controller uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// sender serializes writes to a Conn and stops writing once the connection
// is known to be gone. A failed write marks it closed; a failed read does not,
// so teardown can still flush a final turn.
type sender struct {
	conn   Conn
	logger *slog.Logger

	mu         sync.Mutex
	closed     bool
	connClosed bool
}

func newSender(conn Conn, logger *slog.Logger) *sender {
	return &sender{conn: conn, logger: logger}
}

// Open reports whether sends are still attempted.
func (s *sender) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// SendText writes a text frame. It reports whether the frame was written.
func (s *sender) SendText(text string) bool {
	return s.write(websocket.TextMessage, []byte(text))
}

// SendAudio writes a binary frame.
func (s *sender) SendAudio(data []byte) bool {
	return s.write(websocket.BinaryMessage, data)
}

func (s *sender) write(messageType int, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		s.closed = true
		s.logger.Info("write failed, connection marked closed", "error", err)
		return false
	}
	return true
}

// Close sends a normal close frame when the connection is still healthy and
// closes it. Only the first call touches the connection.
func (s *sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connClosed {
		return nil
	}
	s.connClosed = true
	if !s.closed {
		s.closed = true
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := s.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("close frame not sent", "error", err)
		}
	}
	return s.conn.Close()
}
