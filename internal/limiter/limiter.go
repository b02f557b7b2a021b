// Package limiter implements an AIMD in-flight credit limiter: one Limiter
// guards one (host, path-prefix) pair, and its cap grows additively on
// success and shrinks multiplicatively when a dispatch is dropped.
//
// Grounded structurally on golang.org/x/sync/semaphore.Weighted's
// under-lock, wake-one-waiter-at-a-time design, generalized here because
// semaphore.Weighted's capacity is fixed at construction and cannot be
// resized the way AIMD feedback requires.
package limiter

import (
	"container/list"
	"context"
	"sync"
)

// Disposition describes the load signal a completed dispatch carries back
// to the limiter when its Permit is released.
type Disposition int

const (
	// OnSuccess means the dispatch completed and should count toward
	// growing the cap.
	OnSuccess Disposition = iota
	// OnIgnore means the outcome carries no load signal (for example a
	// client-side cancellation before dispatch) and must not move the cap.
	OnIgnore
	// OnDropped means the dispatch failed in a way attributable to
	// overload and should shrink the cap multiplicatively.
	OnDropped
)

type waiter struct {
	ready chan struct{}
	// canceled is set under Limiter.mu once the waiter has given up; the
	// releasing side must skip it rather than hand it a permit.
	canceled bool
}

// Limiter is an AIMD-governed in-flight credit pool. The zero value is not
// usable; construct with New. Safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	min, max int
	cap      int // current cap, min <= cap <= max
	inFlight int

	waiters *list.List // of *waiter, FIFO

	increase int     // additive increase step
	decrease float64 // multiplicative decrease factor, in (0, 1)
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithAdditiveIncrease overrides the default +1-per-success growth step.
func WithAdditiveIncrease(step int) Option {
	return func(l *Limiter) { l.increase = step }
}

// WithMultiplicativeDecrease overrides the default 0.5 shrink factor applied
// to the cap on every dropped disposition.
func WithMultiplicativeDecrease(factor float64) Option {
	return func(l *Limiter) { l.decrease = factor }
}

// New creates a Limiter starting at initial credits, never shrinking below
// min nor growing past max.
func New(min, max, initial int, opts ...Option) *Limiter {
	if initial < min {
		initial = min
	}
	if initial > max {
		initial = max
	}

	l := &Limiter{
		min:      min,
		max:      max,
		cap:      initial,
		waiters:  list.New(),
		increase: 1,
		decrease: 0.5,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Cap returns the current credit cap.
func (l *Limiter) Cap() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cap
}

// InFlight returns the number of permits currently held.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.inFlight
}

// Permit represents one unit of in-flight credit. It must be released
// exactly once via Release.
type Permit struct {
	l        *Limiter
	released bool
}

// Acquire blocks until a credit is available or ctx is done. Acquisition is
// FIFO: a caller that arrives while others are already waiting is queued
// behind them, even if credit frees up in the meantime. Cancelling ctx
// surrenders the queued request without affecting the cap.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	l.mu.Lock()

	if l.waiters.Len() == 0 && l.inFlight < l.cap {
		l.inFlight++
		l.mu.Unlock()

		return &Permit{l: l}, nil
	}

	w := &waiter{ready: make(chan struct{})}
	elem := l.waiters.PushBack(w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return &Permit{l: l}, nil
	case <-ctx.Done():
		l.mu.Lock()

		select {
		case <-w.ready:
			// Raced with a handoff that already granted this waiter a
			// permit; honor the grant rather than leaking its credit.
			l.mu.Unlock()

			return &Permit{l: l}, nil
		default:
		}

		w.canceled = true
		l.waiters.Remove(elem)
		l.mu.Unlock()

		return nil, ctx.Err()
	}
}

// TryAcquire attempts a non-blocking acquisition, returning ok=false if no
// credit is immediately available or other callers are already queued.
func (l *Limiter) TryAcquire() (*Permit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.waiters.Len() > 0 || l.inFlight >= l.cap {
		return nil, false
	}

	l.inFlight++

	return &Permit{l: l}, true
}

// Release returns p's credit to the limiter, recording disposition as AIMD
// feedback. Calling Release more than once on the same Permit panics.
func (p *Permit) Release(disposition Disposition) {
	if p.released {
		panic("limiter: permit released more than once")
	}
	p.released = true

	l := p.l
	l.mu.Lock()

	switch disposition {
	case OnSuccess:
		l.cap += l.increase
		if l.cap > l.max {
			l.cap = l.max
		}
	case OnDropped:
		l.cap = int(float64(l.cap) * l.decrease)
		if l.cap < l.min {
			l.cap = l.min
		}
	case OnIgnore:
		// Cap unchanged.
	}

	l.handoffOrFreeLocked()
}

// handoffOrFreeLocked must be called with l.mu held. It either wakes the
// next FIFO waiter with the just-freed credit, or decrements inFlight if
// there is nobody waiting or the new cap has no room.
func (l *Limiter) handoffOrFreeLocked() {
	for {
		front := l.waiters.Front()
		if front == nil || l.inFlight > l.cap {
			l.inFlight--

			return
		}

		w := front.Value.(*waiter)
		l.waiters.Remove(front)

		if w.canceled {
			// This waiter already walked away; its slot in the queue is
			// spent, keep looking for a live one without consuming credit
			// twice.
			continue
		}

		// Hand the still-held credit straight to the woken waiter: inFlight
		// does not change, ownership just transfers.
		close(w.ready)

		return
	}
}
