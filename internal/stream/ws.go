package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 10 * time.Second

// WSSubscriber adapts a WebSocket connection to the Subscriber
// interface. Writes are serialized; gorilla connections allow only one
// concurrent writer.
type WSSubscriber struct {
	conn         *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
	closed       bool
}

// NewWSSubscriber wraps an upgraded connection
func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{
		conn:         conn,
		writeTimeout: defaultWriteTimeout,
	}
}

// Send writes one lifecycle event to the connection
func (s *WSSubscriber) Send(msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return websocket.ErrCloseSent
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(msg)
}

// SendError writes a rejection frame, used before an order exists
func (s *WSSubscriber) SendError(frame *ErrorFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return websocket.ErrCloseSent
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(frame)
}

// Close sends a close frame best-effort and tears down the connection.
// Safe to call more than once.
func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	return s.conn.Close()
}
