package tipc

import (
	"time"
)

// Clock is the time source Monitor and Node consume instead of calling
// time.Now/time.AfterFunc directly. A discrete-event simulation driver
// substitutes a virtual clock whose Now only advances when the driver
// advances it; production code can wire a RealClock that simply delegates
// to the time package.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn to run once d has elapsed according to this
	// clock, returning a cancellable Timer.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable handle returned by Clock.AfterFunc.
type Timer interface {
	// Stop cancels the timer. It reports whether the cancellation
	// happened before the timer fired.
	Stop() bool
}

// RealClock drives Monitor/Node off the wall clock, for running the
// simulation core outside of a discrete-event driver (e.g. ad hoc tests
// or a live harness).
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (RealClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// virtualTimer backs a VirtualClock's AfterFunc.
type virtualTimer struct {
	deadline time.Time
	fn       func()
	cancelled bool
}

// Stop marks the timer cancelled; VirtualClock.Advance skips it.
func (t *virtualTimer) Stop() bool {
	if t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

// VirtualClock is a manually-advanced Clock for deterministic simulation
// runs: Now never changes on its own, only when Advance is called. It is
// not safe for concurrent use without an external lock, matching the
// single-threaded cooperative scheduling model the FSM and monitor assume.
type VirtualClock struct {
	now    time.Time
	timers []*virtualTimer
}

// NewVirtualClock returns a clock starting at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

// Now returns the clock's current simulated time.
func (c *VirtualClock) Now() time.Time { return c.now }

// AfterFunc registers fn to run once the clock reaches now+d.
func (c *VirtualClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := &virtualTimer{deadline: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing (in deadline order) every
// non-cancelled timer whose deadline falls at or before the new time.
func (c *VirtualClock) Advance(d time.Duration) {
	target := c.now.Add(d)

	for {
		idx := -1
		for i, t := range c.timers {
			if t.cancelled {
				continue
			}
			if !t.deadline.After(target) {
				if idx == -1 || t.deadline.Before(c.timers[idx].deadline) {
					idx = i
				}
			}
		}
		if idx == -1 {
			break
		}
		fire := c.timers[idx]
		c.timers = append(c.timers[:idx], c.timers[idx+1:]...)
		fire.cancelled = true // a fired timer can no longer be stopped
		c.now = fire.deadline
		fire.fn()
	}

	c.now = target
}