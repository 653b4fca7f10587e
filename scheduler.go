package geocascade

import "time"

// Timer is a pending delayed call.
type Timer interface {
	// Stop cancels the call and reports whether it was still pending.
	Stop() bool
}

// Scheduler runs f after d on its own goroutine. Debounce timers are created through it
// so tests can drive time by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealScheduler is the wall-clock scheduler backed by time.AfterFunc.
var RealScheduler Scheduler = realScheduler{}
