package scheduler

import "time"

// Timer is a cancellable one-shot timer handle.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether it stopped the
	// timer before the callback started; correctness never depends on the
	// answer, the version fence in the registry does.
	Stop() bool
}

// Clock abstracts "now" and one-shot callbacks so the firing paths can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
