package consumer

import "time"

// Timer is a cancellable delayed call.
type Timer interface {
	Stop() bool
}

// TimerFactory creates timers. Tests inject a fake factory so the backoff
// sequence can be asserted without real delays.
type TimerFactory interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemTimers implements TimerFactory with the runtime timers.
type SystemTimers struct{}

// AfterFunc schedules f after d.
func (SystemTimers) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
