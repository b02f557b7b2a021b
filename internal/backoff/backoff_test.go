package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_BoundedByExponentialCap(t *testing.T) {
	slot := 10 * time.Millisecond
	g := NewGenerator(slot, 3)

	wantCap := slot
	for k := 1; k <= 3; k++ {
		d, ok := g.Next()
		require.True(t, ok, "attempt %d should produce a delay", k)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, wantCap, "attempt %d delay exceeds its cap", k)
		wantCap *= 2
	}
}

func TestGenerator_ExhaustionIsSticky(t *testing.T) {
	g := NewGenerator(5*time.Millisecond, 1)

	_, ok := g.Next()
	require.True(t, ok)

	_, ok = g.Next()
	require.False(t, ok, "second call should exhaust a generator with maxNumRetries=1")

	for i := 0; i < 5; i++ {
		d, ok := g.Next()
		assert.False(t, ok, "exhaustion must be sticky")
		assert.Equal(t, time.Duration(0), d)
	}
}

func TestGenerator_ZeroRetriesExhaustsImmediately(t *testing.T) {
	g := NewGenerator(10*time.Millisecond, 0)

	_, ok := g.Next()
	assert.False(t, ok)
}

func TestGenerator_IndependentInstances(t *testing.T) {
	a := NewGenerator(10*time.Millisecond, 5)
	b := NewGenerator(10*time.Millisecond, 5)

	_, ok := a.Next()
	require.True(t, ok)
	_, ok = a.Next()
	require.True(t, ok)

	// b is unaffected by a's advancement.
	_, ok = b.Next()
	assert.True(t, ok)
}
