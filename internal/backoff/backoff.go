// Package backoff implements the call engine's jittered retry schedule.
package backoff

import (
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

// Generator produces the delay before the next attempt of a single logical
// call. On the k-th call (1-indexed), it returns uniform(0, slotSize*2^(k-1))
// until maxNumRetries calls have been exhausted, after which it sticks at
// (0, false) forever. A Generator is not safe for concurrent use; each
// logical call owns one.
type Generator struct {
	inner     retry.Backoff
	exhausted bool
}

// NewGenerator creates a Generator bounded by maxNumRetries additional
// attempts, each with a cap growing as slotSize*2^(k-1). maxNumRetries must
// be non-negative.
func NewGenerator(slotSize time.Duration, maxNumRetries int) *Generator {
	base := retry.NewExponential(slotSize)
	bounded := retry.WithMaxRetries(uint64(maxNumRetries), base)

	return &Generator{inner: bounded}
}

// Next returns the delay before the next attempt, or (0, false) if the
// generator is exhausted. Exhaustion is sticky: once false is returned,
// every subsequent call also returns false.
func (g *Generator) Next() (time.Duration, bool) {
	if g.exhausted {
		return 0, false
	}

	// go-retry's second return value is "stop", not "ok".
	cap_, stop := g.inner.Next()
	if stop {
		g.exhausted = true

		return 0, false
	}

	if cap_ <= 0 {
		return 0, true
	}

	// Full jitter: uniform(0, cap), not go-retry's own jitter helpers (those
	// perturb around a value rather than drawing from zero).
	return time.Duration(rand.Float64() * float64(cap_)), true
}
