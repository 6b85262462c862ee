package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the protocol version advertised by the relay server in the
// registered acknowledgement. Clients check it with a semver constraint.
const Version = "1.2.0"

// Recognized message types exchanged over the relay connection.
const (
	TypeRegisterDesktop     = "register-desktop"
	TypeRegisterScanner     = "register-scanner"
	TypeRegistered          = "registered"
	TypeMobileConnected     = "mobile-connected"
	TypeStudentScan         = "student-scan"
	TypeScanConfirmed       = "scan-confirmed"
	TypeStudentScanned      = "student-scanned"
	TypeScannerDisconnected = "scanner-disconnected"
	TypeError               = "error"
)

// Connection roles tracked by the relay server registry.
const (
	RoleDesktop = "desktop"
	RoleScanner = "scanner"
)

// Default client IDs applied when a registration omits the id field.
const (
	DefaultDesktopID = "main-desktop"
	DefaultScannerID = "mobile"
)

// Envelope carries the mandatory type discriminator of every frame.
type Envelope struct {
	Type string `json:"type"`
}

// Student is the scanned student reference carried by scan messages.
type Student struct {
	ID      string            `json:"id"`
	Name    string            `json:"name,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Register declares the sending connection as a desktop consumer or a
// scanner producer. The id is optional; Device carries optional host
// metadata attached by scanners.
type Register struct {
	Type   string            `json:"type"`
	ID     string            `json:"id,omitempty"`
	Device map[string]string `json:"device,omitempty"`
}

// Registered acknowledges a registration back to the sender.
type Registered struct {
	Type          string    `json:"type"`
	Role          string    `json:"role"`
	ID            string    `json:"id"`
	ServerVersion string    `json:"serverVersion,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// MobileConnected notifies desktops that a scanner joined.
type MobileConnected struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	Device    map[string]string `json:"device,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// StudentScan publishes a scan event from a scanner to the server.
type StudentScan struct {
	Type      string    `json:"type"`
	Student   Student   `json:"student"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanConfirmed acknowledges receipt of a scan to the sending scanner.
type ScanConfirmed struct {
	Type           string            `json:"type"`
	StudentID      string            `json:"studentId"`
	StudentName    string            `json:"studentName,omitempty"`
	StudentDetails map[string]string `json:"studentDetails,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// StudentScanned delivers a scan event to desktop consumers.
type StudentScanned struct {
	Type            string            `json:"type"`
	Student         Student           `json:"student"`
	ScanTimestamp   time.Time         `json:"scanTimestamp"`
	ScannerID       string            `json:"scannerId"`
	Device          map[string]string `json:"device,omitempty"`
	ServerTimestamp time.Time         `json:"serverTimestamp"`
}

// ScannerDisconnected notifies desktops that a scanner left.
type ScannerDisconnected struct {
	Type      string    `json:"type"`
	ScannerID string    `json:"scannerId"`
	Timestamp time.Time `json:"timestamp"`
}

// Error reports a protocol error back to the offending sender only.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error message with the given description.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// ResolveClientID returns the requested id, or the role-specific default
// when the registration omitted it. Every registration path must resolve
// the id through here exactly once.
func ResolveClientID(role, requested string) string {
	if requested != "" {
		return requested
	}
	if role == RoleScanner {
		return DefaultScannerID
	}
	return DefaultDesktopID
}

// RoleForType maps a registration message type to its registry role.
func RoleForType(msgType string) (string, bool) {
	switch msgType {
	case TypeRegisterDesktop:
		return RoleDesktop, true
	case TypeRegisterScanner:
		return RoleScanner, true
	default:
		return "", false
	}
}

// ParseEnvelope extracts the type discriminator from a raw frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid message frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("message frame is missing a type")
	}
	return env, nil
}
