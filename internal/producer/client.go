package producer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradscan/scan-relay/internal/protocol"
	"github.com/gradscan/scan-relay/pkg/deviceinfo"
	"github.com/gradscan/scan-relay/pkg/students"
	"github.com/gradscan/scan-relay/pkg/ws"
)

var (
	// ErrNotConnected is returned when publishing without a live connection.
	ErrNotConnected = errors.New("scanner is not connected to the relay")

	// ErrUnknownStudent is returned when a scanned id does not resolve to a
	// known student.
	ErrUnknownStudent = errors.New("scanned id does not match a known student")

	// ErrNotConfirmed is returned when the relay does not confirm a scan in
	// time. The scan is not retried automatically; retrying could announce
	// the same student twice.
	ErrNotConfirmed = errors.New("scan was not confirmed by the relay")
)

// Client is the mobile scanner side of the relay. It mirrors the desktop
// manager's connect/register flow but carries no circuit breaker: on
// disconnect the human user decides when to retry.
type Client struct {
	url            string
	confirmTimeout time.Duration
	deviceInfo     deviceinfo.DeviceInfoInterface
	validator      students.Validator
	dialer         ws.Dialer
	logger         zerolog.Logger

	// OnDisconnect, if set, is invoked once when the connection drops for
	// any reason other than a local Close.
	OnDisconnect func(code int)

	mu         sync.Mutex
	conn       ws.Conn
	generation int
	scannerID  string
	confirmCh  chan protocol.ScanConfirmed

	scanMu sync.Mutex
}

// NewClient initializes a scanner client.
func NewClient(url string, confirmTimeout time.Duration, deviceInfo deviceinfo.DeviceInfoInterface,
	validator students.Validator, dialer ws.Dialer, logger zerolog.Logger) *Client {
	return &Client{
		url:            url,
		confirmTimeout: confirmTimeout,
		deviceInfo:     deviceInfo,
		validator:      validator,
		dialer:         dialer,
		logger:         logger,
	}
}

// Connect dials the relay and registers this connection as a scanner. The
// persisted scanner id is requested when present; otherwise the server
// assigns the role default.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("scanner is already connected")
	}
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	conn, err := c.dialer.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	register := protocol.Register{
		Type:   protocol.TypeRegisterScanner,
		ID:     c.deviceInfo.GetScannerID(),
		Device: c.deviceInfo.HostMetadata(),
	}
	if err := conn.WriteJSON(register); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to send register-scanner: %w", err)
	}

	c.mu.Lock()
	if gen != c.generation {
		// Close raced the dial; the connection being installed is already
		// superseded and must not come back to life.
		c.mu.Unlock()
		_ = conn.CloseWithCode(ws.CloseNormal, "closed while connecting")
		return ErrNotConnected
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info().Str("url", c.url).Msg("Scanner connected to relay")
	go c.readLoop(gen, conn)
	return nil
}

// Scan validates the decoded QR payload against the student collaborator
// and publishes the scan event. It waits for scan-confirmed purely for
// local UI feedback; a timeout surfaces as ErrNotConfirmed, never a retry.
func (c *Client) Scan(studentID string) (*students.Record, error) {
	record, ok := c.validator.Validate(studentID)
	if !ok {
		return nil, ErrUnknownStudent
	}

	// One outstanding scan at a time; each needs its own confirmation.
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	confirmCh := make(chan protocol.ScanConfirmed, 1)
	c.confirmCh = confirmCh
	c.mu.Unlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	msg := protocol.StudentScan{
		Type: protocol.TypeStudentScan,
		Student: protocol.Student{
			ID:      record.ID,
			Name:    record.Name,
			Details: record.Details,
		},
		Timestamp: time.Now(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		return nil, fmt.Errorf("failed to publish scan: %w", err)
	}

	select {
	case confirmed := <-confirmCh:
		c.logger.Info().Str("student_id", confirmed.StudentID).Msg("Scan confirmed")
		return record, nil
	case <-time.After(c.confirmTimeout):
		c.logger.Warn().Str("student_id", record.ID).Msg("Scan not confirmed in time")
		return record, ErrNotConfirmed
	}
}

// ScannerID returns the id this scanner is registered under.
func (c *Client) ScannerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scannerID
}

// Close intentionally closes the connection with the normal close code.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.generation++
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.CloseWithCode(ws.CloseNormal, "scanner closing")
}

// readLoop handles inbound frames until the connection dies.
func (c *Client) readLoop(gen int, conn ws.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			code := ws.CloseCode(err)

			c.mu.Lock()
			stale := gen != c.generation
			if !stale {
				c.conn = nil
			}
			c.mu.Unlock()

			if stale {
				return
			}
			c.logger.Warn().Int("code", code).Msg("Scanner connection closed")
			if c.OnDisconnect != nil {
				c.OnDisconnect(code)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Dropping malformed frame from server")
		return
	}

	switch env.Type {
	case protocol.TypeRegistered:
		var msg protocol.Registered
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.mu.Lock()
		c.scannerID = msg.ID
		c.mu.Unlock()
		c.logger.Info().Str("id", msg.ID).Msg("Scanner registered with relay")

		// Persist the assigned id so the scanner keeps it across restarts.
		if msg.ID != c.deviceInfo.GetScannerID() {
			if err := c.deviceInfo.SaveScannerID(msg.ID); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to persist scanner id")
			}
		}

	case protocol.TypeScanConfirmed:
		var msg protocol.ScanConfirmed
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.mu.Lock()
		ch := c.confirmCh
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- msg:
			default:
			}
		}

	case protocol.TypeError:
		var msg protocol.Error
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.logger.Warn().Str("message", msg.Message).Msg("Relay reported an error")

	default:
		c.logger.Debug().Str("type", env.Type).Msg("Ignoring unexpected message type")
	}
}
