package producer_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/gradscan/scan-relay/internal/mocks"
	"github.com/gradscan/scan-relay/internal/producer"
	"github.com/gradscan/scan-relay/internal/protocol"
	"github.com/gradscan/scan-relay/pkg/students"
	"github.com/gradscan/scan-relay/pkg/ws"
)

type scriptedConn struct {
	mu     sync.Mutex
	sent   []any
	wrote  chan any
	frames chan []byte
	closed bool
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		wrote:  make(chan any, 8),
		frames: make(chan []byte, 8),
	}
}

func (c *scriptedConn) ReadMessage() ([]byte, error) {
	b, ok := <-c.frames
	if !ok {
		return nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
	return b, nil
}

func (c *scriptedConn) WriteJSON(v any) error {
	c.mu.Lock()
	c.sent = append(c.sent, v)
	c.mu.Unlock()
	c.wrote <- v
	return nil
}

func (c *scriptedConn) Alive() bool { return true }

func (c *scriptedConn) Close() error { return c.CloseWithCode(ws.CloseNormal, "") }

func (c *scriptedConn) CloseWithCode(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}

func roster() *students.MemoryStore {
	store := students.NewMemoryStore()
	_ = store.Create(students.Record{ID: "42", Name: "Jane Doe"})
	return store
}

func newTestClient(t *testing.T, conn *scriptedConn, confirmTimeout time.Duration) (*producer.Client, *mocks.DeviceInfo) {
	t.Helper()

	device := new(mocks.DeviceInfo)
	device.On("GetScannerID").Return("S1")
	device.On("HostMetadata").Return(map[string]string{"hostname": "phone"})

	dialer := new(mocks.Dialer)
	dialer.On("Dial", "ws://relay.test/ws").Return(conn, nil)

	client := producer.NewClient("ws://relay.test/ws", confirmTimeout, device, roster(), dialer, zerolog.Nop())
	return client, device
}

func TestClient_ConnectSendsRegisterScanner(t *testing.T) {
	conn := newScriptedConn()
	client, _ := newTestClient(t, conn, time.Second)

	assert.NoError(t, client.Connect())
	defer client.Close()

	select {
	case v := <-conn.wrote:
		reg, ok := v.(protocol.Register)
		assert.True(t, ok)
		assert.Equal(t, protocol.TypeRegisterScanner, reg.Type)
		assert.Equal(t, "S1", reg.ID)
		assert.Equal(t, "phone", reg.Device["hostname"])
	case <-time.After(time.Second):
		t.Fatal("register-scanner was never sent")
	}

	// Connecting twice without closing is rejected.
	assert.Error(t, client.Connect())
}

func TestClient_PersistsAssignedID(t *testing.T) {
	conn := newScriptedConn()
	client, device := newTestClient(t, conn, time.Second)
	device.On("SaveScannerID", "mobile").Return(nil)

	assert.NoError(t, client.Connect())
	defer client.Close()
	<-conn.wrote // register-scanner

	ack, _ := json.Marshal(protocol.Registered{
		Type: protocol.TypeRegistered, Role: protocol.RoleScanner, ID: "mobile",
	})
	conn.frames <- ack

	assert.Eventually(t, func() bool {
		return client.ScannerID() == "mobile"
	}, time.Second, time.Millisecond)
	device.AssertCalled(t, "SaveScannerID", "mobile")
}

func TestClient_ScanUnknownStudent(t *testing.T) {
	conn := newScriptedConn()
	client, _ := newTestClient(t, conn, time.Second)

	_, err := client.Scan("999")
	assert.ErrorIs(t, err, producer.ErrUnknownStudent)
}

func TestClient_ScanWithoutConnection(t *testing.T) {
	conn := newScriptedConn()
	client, _ := newTestClient(t, conn, time.Second)

	_, err := client.Scan("42")
	assert.ErrorIs(t, err, producer.ErrNotConnected)
}

func TestClient_ScanConfirmed(t *testing.T) {
	conn := newScriptedConn()
	client, _ := newTestClient(t, conn, time.Second)

	assert.NoError(t, client.Connect())
	defer client.Close()
	<-conn.wrote // register-scanner

	// Confirm the scan as soon as it hits the wire.
	go func() {
		v := <-conn.wrote
		scan, ok := v.(protocol.StudentScan)
		if !ok {
			return
		}
		confirm, _ := json.Marshal(protocol.ScanConfirmed{
			Type:      protocol.TypeScanConfirmed,
			StudentID: scan.Student.ID,
			Timestamp: time.Now(),
		})
		conn.frames <- confirm
	}()

	record, err := client.Scan("42")
	assert.NoError(t, err)
	assert.Equal(t, "Jane Doe", record.Name)
}

// Missing confirmation surfaces as not-confirmed; the scan is not resent.
func TestClient_ScanConfirmationTimeout(t *testing.T) {
	conn := newScriptedConn()
	client, _ := newTestClient(t, conn, 30*time.Millisecond)

	assert.NoError(t, client.Connect())
	defer client.Close()
	<-conn.wrote // register-scanner

	record, err := client.Scan("42")
	assert.ErrorIs(t, err, producer.ErrNotConfirmed)
	assert.Equal(t, "42", record.ID)

	// register-scanner plus exactly one student-scan on the wire.
	conn.mu.Lock()
	assert.Len(t, conn.sent, 2)
	conn.mu.Unlock()
}

// blockingDialer parks Dial until the test releases it, so Close can be
// interleaved mid-connect.
type blockingDialer struct {
	conn    *scriptedConn
	dialing chan struct{}
	release chan struct{}
}

func (d *blockingDialer) Dial(url string) (ws.Conn, error) {
	d.dialing <- struct{}{}
	<-d.release
	return d.conn, nil
}

// Close racing Connect must not leave a superseded connection installed.
func TestClient_CloseDuringConnect(t *testing.T) {
	conn := newScriptedConn()
	dialer := &blockingDialer{
		conn:    conn,
		dialing: make(chan struct{}),
		release: make(chan struct{}),
	}

	device := new(mocks.DeviceInfo)
	device.On("GetScannerID").Return("S1")
	device.On("HostMetadata").Return(map[string]string{"hostname": "phone"})

	client := producer.NewClient("ws://relay.test/ws", time.Second, device, roster(), dialer, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	<-dialer.dialing
	assert.NoError(t, client.Close())
	close(dialer.release)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, producer.ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("connect never returned")
	}

	// The late connection was closed instead of installed.
	conn.mu.Lock()
	assert.True(t, conn.closed)
	conn.mu.Unlock()

	_, err := client.Scan("42")
	assert.ErrorIs(t, err, producer.ErrNotConnected)
}

func TestClient_DisconnectCallback(t *testing.T) {
	conn := newScriptedConn()
	client, _ := newTestClient(t, conn, time.Second)

	codes := make(chan int, 1)
	client.OnDisconnect = func(code int) { codes <- code }

	assert.NoError(t, client.Connect())
	<-conn.wrote // register-scanner

	// Simulate the link dropping.
	conn.mu.Lock()
	conn.closed = true
	close(conn.frames)
	conn.mu.Unlock()

	select {
	case code := <-codes:
		assert.Equal(t, websocket.CloseAbnormalClosure, code)
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}
}
