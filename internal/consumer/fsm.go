package consumer

import (
	"math"
	"time"

	"github.com/gradscan/scan-relay/pkg/ws"
)

// Phase is the state-machine state of the Consumer Connection Manager.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseOffline
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// State is the client-owned connection state. ReconnectAttempts resets to 0
// on successful open and on a manual reconnect trigger; CircuitOpen stays
// true from retry exhaustion until a manual reconnect.
type State struct {
	Phase             Phase
	ReconnectAttempts int
	CircuitOpen       bool
}

// EventKind enumerates the inputs driving the state machine.
type EventKind int

const (
	// EventManualReconnect is the external trigger: initial connect or the
	// operator's explicit retry. The only way out of the offline phase.
	EventManualReconnect EventKind = iota
	// EventOpened fires when a dial completes successfully.
	EventOpened
	// EventClosed fires when the connection closes or a dial fails; the
	// close code decides whether the backoff machine engages.
	EventClosed
	// EventRetryTimerFired fires when the scheduled reconnect delay elapses.
	EventRetryTimerFired
	// EventTeardown is the intentional local close on component teardown.
	EventTeardown
)

// Event is one input to the transition function.
type Event struct {
	Kind      EventKind
	CloseCode int
}

// EffectKind enumerates the side effects a transition requests.
type EffectKind int

const (
	EffectDial EffectKind = iota
	EffectSendRegister
	EffectNotifyOnline
	EffectNotifyOffline
	EffectScheduleRetry
	EffectCancelTimer
	EffectCloseConn
)

// Effect is one side effect requested by a transition.
type Effect struct {
	Kind  EffectKind
	Delay time.Duration
}

// Policy holds the retry budget and delay tiers.
type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	FastBackoffCap time.Duration
	SteadyDelay    time.Duration
}

// RetryDelay computes the delay before the given attempt (1-based). The
// first two attempts use capped exponential backoff for fast recovery from
// transient blips; later attempts use a flat delay to avoid busy-looping
// against a genuinely down server.
func (p Policy) RetryDelay(attempt int) time.Duration {
	if attempt <= 2 {
		d := time.Duration(float64(p.BaseDelay) * math.Pow(1.5, float64(attempt-1)))
		if d > p.FastBackoffCap {
			d = p.FastBackoffCap
		}
		return d
	}
	return p.SteadyDelay
}

// Transition is the pure state-machine step: (state, event) -> (state,
// effects). It performs no I/O and schedules no timers itself, which keeps
// the reconnect logic testable without a clock.
func Transition(p Policy, s State, ev Event) (State, []Effect) {
	switch ev.Kind {
	case EventManualReconnect:
		s.Phase = PhaseConnecting
		s.ReconnectAttempts = 0
		s.CircuitOpen = false
		return s, []Effect{{Kind: EffectCancelTimer}, {Kind: EffectDial}}

	case EventRetryTimerFired:
		if s.Phase != PhaseReconnecting {
			// Stale timer; teardown or manual reconnect already superseded it.
			return s, nil
		}
		s.Phase = PhaseConnecting
		return s, []Effect{{Kind: EffectDial}}

	case EventOpened:
		if s.Phase != PhaseConnecting {
			// A connection raced with teardown; discard it.
			return s, []Effect{{Kind: EffectCloseConn}}
		}
		s.Phase = PhaseConnected
		s.ReconnectAttempts = 0
		s.CircuitOpen = false
		return s, []Effect{{Kind: EffectSendRegister}, {Kind: EffectNotifyOnline}}

	case EventClosed:
		if s.Phase == PhaseDisconnected || s.Phase == PhaseOffline {
			return s, nil
		}
		if ev.CloseCode == ws.CloseNormal {
			// Intentional close never drives the backoff machine.
			s.Phase = PhaseDisconnected
			return s, []Effect{{Kind: EffectCancelTimer}}
		}
		if s.ReconnectAttempts < p.MaxRetries {
			s.ReconnectAttempts++
			s.Phase = PhaseReconnecting
			return s, []Effect{
				{Kind: EffectCancelTimer},
				{Kind: EffectScheduleRetry, Delay: p.RetryDelay(s.ReconnectAttempts)},
			}
		}
		s.Phase = PhaseOffline
		s.CircuitOpen = true
		return s, []Effect{{Kind: EffectCancelTimer}, {Kind: EffectNotifyOffline}}

	case EventTeardown:
		s.Phase = PhaseDisconnected
		return s, []Effect{{Kind: EffectCancelTimer}, {Kind: EffectCloseConn}}

	default:
		return s, nil
	}
}
