// Package clock provides an injectable time source so interval flushes,
// dedup windows and cooldowns can be driven deterministically in tests.
//
// Production code receives Real(); tests construct a Fake and move time
// forward with Advance.
package clock

import "time"

// Clock is the time surface the pipeline components depend on instead of
// the time package.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the elapsed time since t.
	Since(t time.Time) time.Duration

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// AfterFunc schedules f to run once after d and returns a Timer
	// whose Stop cancels the pending call.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Ticker delivers periodic ticks on C until stopped.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Timer is a single pending callback created by AfterFunc.
type Timer struct {
	stop func() bool
}

// Stop cancels the pending callback. It reports whether the call
// prevented the callback from running.
func (t *Timer) Stop() bool { return t.stop() }
