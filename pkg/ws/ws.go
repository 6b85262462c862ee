package ws

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseNormal is the close code meaning "intentional close". It is the only
// code that must never trigger automatic reconnection.
const CloseNormal = websocket.CloseNormalClosure

// CloseAbnormal is the code attributed to failures that never produced a
// close frame (dial errors, dropped links).
const CloseAbnormal = websocket.CloseAbnormalClosure

// ErrConnClosed is returned when writing to a connection that already
// failed or was closed locally.
var ErrConnClosed = errors.New("websocket connection is closed")

// Conn defines the websocket surface used by the relay server and clients.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Alive() bool
	Close() error
	CloseWithCode(code int, reason string) error
}

// Dialer opens websocket connections to the relay endpoint.
type Dialer interface {
	Dial(url string) (Conn, error)
}

// GorillaDialer implements Dialer on top of gorilla/websocket.
type GorillaDialer struct {
	HandshakeTimeout time.Duration
}

// Dial connects to the given ws:// or wss:// URL.
func (d GorillaDialer) Dial(url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	conn, _, err := dialer.Dial(url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return Wrap(conn), nil
}

// socket wraps a gorilla connection with serialized writes and a liveness
// flag. Gorilla permits only one concurrent writer per connection.
type socket struct {
	conn *websocket.Conn

	mu    sync.Mutex
	alive bool
}

// Wrap adapts a raw gorilla connection to the Conn interface.
func Wrap(conn *websocket.Conn) Conn {
	return &socket{conn: conn, alive: true}
}

// ReadMessage blocks until the next text frame arrives. On error the
// connection is marked dead.
func (s *socket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		s.markDead()
		return nil, err
	}
	return data, nil
}

// WriteJSON sends v as a single JSON text frame.
func (s *socket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return ErrConnClosed
	}
	if err := s.conn.WriteJSON(v); err != nil {
		s.alive = false
		return err
	}
	return nil
}

// Alive reports whether the connection has seen a read/write failure or a
// local close. The dead-connection sweep keys off this.
func (s *socket) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Close tears the connection down with the normal close code.
func (s *socket) Close() error {
	return s.CloseWithCode(CloseNormal, "")
}

// CloseWithCode sends a close frame with the given code, then closes the
// underlying connection.
func (s *socket) CloseWithCode(code int, reason string) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return s.conn.Close()
	}
	s.alive = false
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *socket) markDead() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

// CloseCode extracts the close code from a read error. Errors that are not
// close frames (network failures, local closes) map to the abnormal
// closure code.
func CloseCode(err error) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return websocket.CloseAbnormalClosure
}
