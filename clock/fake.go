package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a deterministic Clock frozen at initial. Time only moves
// when Advance is called; tickers and timers whose deadlines fall inside
// the advanced span fire in deadline order.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{now: initial}
}

// FakeClock is a Clock for tests. Safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance; do not call
// Advance from within a callback.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time // ticker waiters
	fn       func()         // timer waiters
	interval time.Duration  // non-zero reschedules after firing
	stopped  bool
	fired    bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &waiter{deadline: c.now.Add(d), ch: ch, interval: d}
	c.pending = append(c.pending, w)

	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.stopped = true
		},
	}
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{stop: func() bool { return false }}
	}
	w := &waiter{deadline: c.now.Add(d), fn: f}
	c.pending = append(c.pending, w)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w.stopped || w.fired {
				return false
			}
			w.stopped = true
			return true
		},
	}
}

// Advance moves the clock forward by d, firing every expired waiter in
// deadline order. Ticker sends are non-blocking so a slow consumer drops
// ticks instead of deadlocking, matching time.Ticker.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}
		sort.Slice(expired, func(i, j int) bool {
			return expired[i].deadline.Before(expired[j].deadline)
		})
		for _, w := range expired {
			if w.fn != nil {
				w.fn()
				continue
			}
			select {
			case w.ch <- target:
			default:
			}
		}
	}
}

func (c *FakeClock) takeExpired(target time.Time) []*waiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired, keep []*waiter
	for _, w := range c.pending {
		switch {
		case w.stopped:
		case !w.deadline.After(target):
			expired = append(expired, w)
		default:
			keep = append(keep, w)
		}
	}
	for _, w := range expired {
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			keep = append(keep, w)
		} else {
			w.fired = true
		}
	}
	c.pending = keep
	return expired
}
