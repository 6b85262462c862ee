package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/gradscan/scan-relay/pkg/ws"
)

// Conn is a mock implementation of the ws.Conn interface.
type Conn struct {
	mock.Mock
}

func (m *Conn) ReadMessage() ([]byte, error) {
	args := m.Called()
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *Conn) WriteJSON(v any) error {
	args := m.Called(v)
	return args.Error(0)
}

func (m *Conn) Alive() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *Conn) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *Conn) CloseWithCode(code int, reason string) error {
	args := m.Called(code, reason)
	return args.Error(0)
}

// Dialer is a mock implementation of the ws.Dialer interface.
type Dialer struct {
	mock.Mock
}

func (m *Dialer) Dial(url string) (ws.Conn, error) {
	args := m.Called(url)
	conn, _ := args.Get(0).(ws.Conn)
	return conn, args.Error(1)
}
