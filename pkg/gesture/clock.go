package gesture

import "time"

// Clock abstracts time for the hold-duration timer so tests can fire it
// deterministically.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules f to run in its own goroutine after d.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a stoppable scheduled call.
type Timer interface {
	// Stop cancels the call. It reports whether the call was prevented.
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
