package consumer

import (
	"encoding/json"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/gradscan/scan-relay/internal/protocol"
	"github.com/gradscan/scan-relay/pkg/students"
	"github.com/gradscan/scan-relay/pkg/ws"
)

// serverVersionConstraint is the protocol versions this consumer accepts.
// An incompatible server is surfaced as a notice, not a disconnect.
const serverVersionConstraint = "^1"

// Callbacks are how the manager surfaces relay activity to the owning
// dashboard UI. Nil callbacks are skipped.
type Callbacks struct {
	OnScan                func(scan protocol.StudentScanned)
	OnOnline              func()
	OnOffline             func()
	OnScannerConnected    func(scannerID string, device map[string]string)
	OnScannerDisconnected func(scannerID string)
	OnNotice              func(message string)
}

// Manager owns the single outbound connection from a dashboard to the relay
// server and drives the reconnect/backoff/circuit-breaker state machine.
// All transitions are serialized by the manager's mutex; no two transitions
// for the same manager run concurrently.
type Manager struct {
	url       string
	clientID  string
	policy    Policy
	validator students.Validator
	dialer    ws.Dialer
	timers    TimerFactory
	callbacks Callbacks
	logger    zerolog.Logger

	mu         sync.Mutex
	state      State
	conn       ws.Conn
	generation int
	retryTimer Timer
	scanners   map[string]map[string]string

	versionCheck *semver.Constraints
}

// NewManager initializes a manager in the disconnected phase. clientID may
// be empty; the default desktop id is resolved at registration time. The
// validator resolves scanned ids against the student roster; scans for ids
// it does not know are dropped with a notice.
func NewManager(url, clientID string, policy Policy, validator students.Validator, dialer ws.Dialer, timers TimerFactory, callbacks Callbacks, logger zerolog.Logger) *Manager {
	check, err := semver.NewConstraint(serverVersionConstraint)
	if err != nil {
		// The constraint is a compile-time literal; this cannot fail.
		panic(err)
	}
	return &Manager{
		url:          url,
		clientID:     clientID,
		policy:       policy,
		validator:    validator,
		dialer:       dialer,
		timers:       timers,
		callbacks:    callbacks,
		logger:       logger,
		state:        State{Phase: PhaseDisconnected},
		scanners:     make(map[string]map[string]string),
		versionCheck: check,
	}
}

// Connect starts the initial connection attempt.
func (m *Manager) Connect() {
	m.step(Event{Kind: EventManualReconnect})
}

// Reconnect is the explicit manual reconnect trigger: it clears the circuit
// breaker, resets the attempt counter and issues exactly one new attempt.
func (m *Manager) Reconnect() {
	m.step(Event{Kind: EventManualReconnect})
}

// Close tears the manager down, cancelling pending timers and closing the
// connection with the normal close code so no reconnect is scheduled.
func (m *Manager) Close() {
	m.step(Event{Kind: EventTeardown})
}

// State returns a snapshot of the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LiveScanners returns the ids of scanners currently known to be connected.
func (m *Manager) LiveScanners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.scanners))
	for id := range m.scanners {
		out = append(out, id)
	}
	return out
}

// step applies one event to the state machine and executes the resulting
// effects. Callback and I/O effects run after the lock is released.
func (m *Manager) step(ev Event) {
	m.mu.Lock()
	next, effects := Transition(m.policy, m.state, ev)
	prev := m.state
	m.state = next

	var after []func()
	for _, effect := range effects {
		switch effect.Kind {
		case EffectCancelTimer:
			m.cancelTimerLocked()

		case EffectScheduleRetry:
			// At most one live reconnect timer per manager.
			m.cancelTimerLocked()
			delay := effect.Delay
			attempt := next.ReconnectAttempts
			m.retryTimer = m.timers.AfterFunc(delay, func() {
				m.step(Event{Kind: EventRetryTimerFired})
			})
			m.logger.Info().Dur("delay", delay).Int("attempt", attempt).Msg("Reconnect scheduled")

		case EffectDial:
			// Bump the generation so callbacks from any prior connection
			// are detached before the replacement is dialed.
			m.generation++
			gen := m.generation
			old := m.conn
			m.conn = nil
			after = append(after, func() {
				if old != nil {
					_ = old.CloseWithCode(ws.CloseNormal, "replaced")
				}
				go m.dial(gen)
			})

		case EffectCloseConn:
			m.generation++
			conn := m.conn
			m.conn = nil
			if conn != nil {
				after = append(after, func() {
					_ = conn.CloseWithCode(ws.CloseNormal, "dashboard closing")
				})
			}

		case EffectSendRegister:
			conn := m.conn
			clientID := m.clientID
			after = append(after, func() {
				if conn == nil {
					return
				}
				msg := protocol.Register{Type: protocol.TypeRegisterDesktop, ID: clientID}
				if err := conn.WriteJSON(msg); err != nil {
					m.logger.Error().Err(err).Msg("Failed to send register-desktop")
				}
			})

		case EffectNotifyOnline:
			after = append(after, func() {
				m.logger.Info().Msg("Relay connection online")
				if m.callbacks.OnOnline != nil {
					m.callbacks.OnOnline()
				}
			})

		case EffectNotifyOffline:
			after = append(after, func() {
				m.logger.Warn().Msg("Retry budget exhausted, server assumed offline")
				if m.callbacks.OnOffline != nil {
					m.callbacks.OnOffline()
				}
			})
		}
	}

	if prev.Phase != next.Phase {
		m.logger.Debug().Str("from", prev.Phase.String()).Str("to", next.Phase.String()).Msg("Connection phase changed")
	}
	m.mu.Unlock()

	for _, f := range after {
		f()
	}
}

func (m *Manager) cancelTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// dial opens a new connection for the given generation. Results for a
// superseded generation are discarded.
func (m *Manager) dial(gen int) {
	conn, err := m.dialer.Dial(m.url)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.CloseWithCode(ws.CloseNormal, "stale dial")
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn().Err(err).Str("url", m.url).Msg("Dial failed")
		m.step(Event{Kind: EventClosed, CloseCode: ws.CloseAbnormal})
		return
	}
	m.conn = conn
	m.mu.Unlock()

	m.step(Event{Kind: EventOpened})
	go m.readLoop(gen, conn)
}

// readLoop forwards inbound messages until the connection dies, then feeds
// the close code into the state machine. A loop whose generation was
// superseded is already detached and reports nothing.
func (m *Manager) readLoop(gen int, conn ws.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			code := ws.CloseCode(err)

			m.mu.Lock()
			stale := gen != m.generation
			if !stale {
				m.conn = nil
			}
			m.mu.Unlock()

			if stale {
				return
			}
			m.logger.Warn().Int("code", code).Msg("Relay connection closed")
			m.step(Event{Kind: EventClosed, CloseCode: code})
			return
		}
		m.handleMessage(data)
	}
}

// handleMessage dispatches one inbound frame to the owner callbacks.
func (m *Manager) handleMessage(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Dropping malformed frame from server")
		return
	}

	switch env.Type {
	case protocol.TypeRegistered:
		var msg protocol.Registered
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		m.logger.Info().Str("id", msg.ID).Str("server_version", msg.ServerVersion).Msg("Registered with relay")
		m.checkServerVersion(msg.ServerVersion)

	case protocol.TypeStudentScanned:
		var msg protocol.StudentScanned
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Debug().Err(err).Msg("Dropping malformed student-scanned")
			return
		}
		if _, ok := m.validator.Validate(msg.Student.ID); !ok {
			notice := "scan for unknown student id " + msg.Student.ID + " was dropped"
			m.logger.Warn().Str("student_id", msg.Student.ID).Str("scanner_id", msg.ScannerID).Msg(notice)
			if m.callbacks.OnNotice != nil {
				m.callbacks.OnNotice(notice)
			}
			return
		}
		if m.callbacks.OnScan != nil {
			m.callbacks.OnScan(msg)
		}

	case protocol.TypeMobileConnected:
		var msg protocol.MobileConnected
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		m.mu.Lock()
		m.scanners[msg.ID] = msg.Device
		m.mu.Unlock()
		if m.callbacks.OnScannerConnected != nil {
			m.callbacks.OnScannerConnected(msg.ID, msg.Device)
		}

	case protocol.TypeScannerDisconnected:
		var msg protocol.ScannerDisconnected
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		m.mu.Lock()
		delete(m.scanners, msg.ScannerID)
		m.mu.Unlock()
		if m.callbacks.OnScannerDisconnected != nil {
			m.callbacks.OnScannerDisconnected(msg.ScannerID)
		}

	case protocol.TypeError:
		var msg protocol.Error
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		m.logger.Warn().Str("message", msg.Message).Msg("Relay reported an error")
		if m.callbacks.OnNotice != nil {
			m.callbacks.OnNotice(msg.Message)
		}

	default:
		m.logger.Debug().Str("type", env.Type).Msg("Ignoring unexpected message type")
	}
}

func (m *Manager) checkServerVersion(version string) {
	if version == "" {
		return
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		m.logger.Debug().Str("version", version).Msg("Unparseable server version")
		return
	}
	if !m.versionCheck.Check(v) {
		notice := "relay server protocol version " + version + " is not supported"
		m.logger.Warn().Msg(notice)
		if m.callbacks.OnNotice != nil {
			m.callbacks.OnNotice(notice)
		}
	}
}
