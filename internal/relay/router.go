package relay

import (
	"encoding/json"
	"time"

	"github.com/gradscan/scan-relay/internal/protocol"
	"github.com/gradscan/scan-relay/pkg/ws"
)

const (
	roleDesktop = protocol.RoleDesktop
	roleScanner = protocol.RoleScanner
)

// HandleFrame classifies one inbound frame against the registry and routes
// it. Frames that fail to parse produce an error reply to the sender only;
// the registry is left untouched and nothing is broadcast.
func (s *Server) HandleFrame(handle string, conn ws.Conn, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.logger.Debug().Err(err).Str("handle", handle).Msg("Rejecting malformed frame")
		s.replyError(conn, "invalid message format")
		return
	}

	switch env.Type {
	case protocol.TypeRegisterDesktop, protocol.TypeRegisterScanner:
		s.handleRegister(handle, conn, env.Type, data)
	case protocol.TypeStudentScan:
		s.handleStudentScan(handle, conn, data)
	default:
		s.logger.Debug().Str("handle", handle).Str("type", env.Type).Msg("Unknown message type")
		s.replyError(conn, "unknown message type: "+env.Type)
	}
}

// handleRegister upserts the Connection Record for the sending connection
// and acknowledges. Scanner registrations are announced to every desktop.
func (s *Server) handleRegister(handle string, conn ws.Conn, msgType string, data []byte) {
	var msg protocol.Register
	if err := json.Unmarshal(data, &msg); err != nil {
		s.replyError(conn, "invalid registration payload")
		return
	}

	role, _ := protocol.RoleForType(msgType)
	clientID := protocol.ResolveClientID(role, msg.ID)

	rec := s.registry.Upsert(handle, role, clientID, msg.Device, conn)
	s.logger.Info().Str("handle", handle).Str("role", role).Str("client_id", clientID).Msg("Connection registered")

	s.send(rec.Peer, protocol.Registered{
		Type:          protocol.TypeRegistered,
		Role:          role,
		ID:            clientID,
		ServerVersion: protocol.Version,
		Timestamp:     time.Now(),
	})

	if role == roleScanner {
		s.broadcastToDesktops(protocol.MobileConnected{
			Type:      protocol.TypeMobileConnected,
			ID:        clientID,
			Device:    msg.Device,
			Timestamp: time.Now(),
		})
	}
}

// handleStudentScan confirms receipt to the sending scanner, then fans the
// event out to every registered desktop. Confirmation is about server
// receipt, not consumer delivery: it is sent even when no desktop is
// registered.
func (s *Server) handleStudentScan(handle string, conn ws.Conn, data []byte) {
	var msg protocol.StudentScan
	if err := json.Unmarshal(data, &msg); err != nil {
		s.replyError(conn, "invalid student-scan payload")
		return
	}
	if msg.Student.ID == "" {
		s.replyError(conn, "student-scan requires a student id")
		return
	}

	rec, ok := s.registry.Get(handle)
	if !ok || rec.Role != roleScanner {
		s.replyError(conn, "connection is not registered as a scanner")
		return
	}

	s.send(conn, protocol.ScanConfirmed{
		Type:           protocol.TypeScanConfirmed,
		StudentID:      msg.Student.ID,
		StudentName:    msg.Student.Name,
		StudentDetails: msg.Student.Details,
		Timestamp:      time.Now(),
	})

	s.broadcastToDesktops(protocol.StudentScanned{
		Type:            protocol.TypeStudentScanned,
		Student:         msg.Student,
		ScanTimestamp:   msg.Timestamp,
		ScannerID:       rec.ClientID,
		Device:          rec.Device,
		ServerTimestamp: time.Now(),
	})
}

// broadcastToDesktops delivers one message to every desktop connection.
// Fan-out is best-effort: each send runs as its own pool job, so a failure
// or stall on one consumer never blocks delivery to the rest.
func (s *Server) broadcastToDesktops(v any) {
	desktops := s.registry.ByRole(roleDesktop)
	for _, rec := range desktops {
		rec := rec
		s.pool.Submit(func() {
			if err := rec.Peer.WriteJSON(v); err != nil {
				s.logger.Warn().Err(err).Str("handle", rec.Handle).Str("client_id", rec.ClientID).Msg("Broadcast send failed")
			}
		})
	}
}

// send writes a reply to a single connection, logging failures.
func (s *Server) send(conn ws.Conn, v any) {
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send message")
	}
}

func (s *Server) replyError(conn ws.Conn, message string) {
	s.send(conn, protocol.NewError(message))
}

func scannerDisconnectedMessage(scannerID string) protocol.ScannerDisconnected {
	return protocol.ScannerDisconnected{
		Type:      protocol.TypeScannerDisconnected,
		ScannerID: scannerID,
		Timestamp: time.Now(),
	}
}
