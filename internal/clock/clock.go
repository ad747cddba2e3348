// ABOUTME: Injectable time source for timers that must be testable without sleeping.
// ABOUTME: Real() wraps the time package; Fake() only moves when a test advances it.

package clock

import "time"

// Clock is the subset of the time package the session client and
// supervisor schedule work through.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. Stop on the returned Timer
	// cancels the call if it has not happened yet.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop reports whether it prevented the callback from running.
	Stop() bool
}

// Real returns a Clock backed by the standard library.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
