package callclient

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable handle to a scheduled callback.
type Timer interface {
	// Stop prevents the timer from firing, if it hasn't already. It
	// returns false if the timer already fired or was already stopped.
	Stop() bool
}

// Clock supplies the current time and a way to schedule delayed work,
// generalizing the teacher's sleepFunc test seam into a full interface so
// retry/backoff tests can run instantly and deterministically.
type Clock interface {
	Now() time.Time
	// Schedule runs fn after d elapses. fn runs on its own goroutine,
	// never on the caller's.
	Schedule(d time.Duration, fn func()) Timer
}

// RealClock is the production Clock, backed by time.AfterFunc.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now() }

// Schedule runs fn after d via time.AfterFunc, whose callback already runs
// on its own goroutine — this is how the engine avoids ever blocking a
// transport callback's thread.
func (RealClock) Schedule(d time.Duration, fn func()) Timer {
	return &realTimer{t: time.AfterFunc(d, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) Stop() bool { return r.t.Stop() }

// FakeClock is a manually-advanced Clock for deterministic tests. The zero
// value is not usable; construct with NewFakeClock.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	seq     int
}

type fakeTimer struct {
	fireAt  time.Time
	fn      func()
	seq     int // tie-break for stable ordering among same-instant timers
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true

	return true
}

// NewFakeClock creates a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the clock's current simulated time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// Schedule registers fn to fire once the clock has been Advance-d past d
// from now.
func (c *FakeClock) Schedule(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{fireAt: c.now.Add(d), fn: fn, seq: c.seq}
	c.seq++
	c.pending = append(c.pending, t)

	return t
}

// Advance moves the simulated clock forward by d, synchronously invoking
// (in fire-order) every timer whose deadline has now passed. A callback
// that itself schedules a new timer may cause that new timer to fire
// within the same Advance call if its deadline also falls within d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now.Add(d)
	c.mu.Unlock()

	for {
		// Step the clock to the earliest pending deadline (or to end), so a
		// callback that schedules a new timer does so relative to its own
		// fire time rather than to end.
		c.mu.Lock()
		step := end
		for _, t := range c.pending {
			if !t.stopped && t.fireAt.Before(step) {
				step = t.fireAt
			}
		}
		if step.After(c.now) {
			c.now = step
		}
		c.mu.Unlock()

		due := c.popDue()
		if len(due) == 0 {
			return
		}

		for _, t := range due {
			t.fired = true
			t.fn()
		}
	}
}

// PendingCount reports how many scheduled timers have not yet fired or been
// stopped, chiefly so tests can wait for a retry to be scheduled before
// calling Advance.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

func (c *FakeClock) popDue() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []*fakeTimer
	var remaining []*fakeTimer

	for _, t := range c.pending {
		if t.stopped {
			continue
		}
		if !t.fireAt.After(c.now) {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].fireAt.Equal(due[j].fireAt) {
			return due[i].seq < due[j].seq
		}

		return due[i].fireAt.Before(due[j].fireAt)
	})

	c.pending = remaining

	return due
}
