package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AcquireReleaseBalance(t *testing.T) {
	l := New(1, 4, 2)

	p1, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p2, err := l.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, l.InFlight())

	p1.Release(OnSuccess)
	assert.Equal(t, 1, l.InFlight())

	p2.Release(OnSuccess)
	assert.Equal(t, 0, l.InFlight())
}

func TestLimiter_AcquireReleaseBalanceUnderContention(t *testing.T) {
	l := New(1, 8, 8)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Acquire(context.Background())
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
			p.Release(OnSuccess)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, l.InFlight(), "every acquire must be matched by exactly one release")
}

func TestLimiter_SuccessGrowsCapAdditively(t *testing.T) {
	l := New(1, 10, 2, WithAdditiveIncrease(3))

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(OnSuccess)

	assert.Equal(t, 5, l.Cap())
}

func TestLimiter_SuccessNeverExceedsMax(t *testing.T) {
	l := New(1, 3, 2)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(OnSuccess)

	p, err = l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(OnSuccess)

	assert.Equal(t, 3, l.Cap())
}

func TestLimiter_DroppedShrinksCapMultiplicatively(t *testing.T) {
	l := New(1, 100, 10, WithMultiplicativeDecrease(0.5))

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(OnDropped)

	assert.Equal(t, 5, l.Cap())
}

func TestLimiter_DroppedNeverBelowMin(t *testing.T) {
	l := New(2, 100, 3, WithMultiplicativeDecrease(0.1))

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(OnDropped)

	assert.Equal(t, 2, l.Cap())
}

func TestLimiter_IgnoreLeavesCapUnchanged(t *testing.T) {
	l := New(1, 100, 7)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(OnIgnore)

	assert.Equal(t, 7, l.Cap())
}

func TestLimiter_AcquireBlocksUntilCreditFrees(t *testing.T) {
	l := New(1, 1, 1)

	p1, err := l.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		p2, err := l.Acquire(context.Background())
		require.NoError(t, err)
		close(acquired)
		p2.Release(OnSuccess)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must not complete while the only credit is held")
	case <-time.After(20 * time.Millisecond):
	}

	p1.Release(OnSuccess)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should complete once credit is released")
	}
}

func TestLimiter_AcquireIsFIFO(t *testing.T) {
	l := New(1, 1, 1)

	held, err := l.Acquire(context.Background())
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			// Stagger enqueue order deterministically.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			p, err := l.Acquire(context.Background())
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			p.Release(OnSuccess)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	held.Release(OnSuccess)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestLimiter_CancelledAcquireDoesNotAffectCap(t *testing.T) {
	l := New(1, 1, 1)

	held, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	waitErr := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx)
		waitErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire should return promptly")
	}

	assert.Equal(t, 1, l.Cap())

	held.Release(OnSuccess)
}

func TestLimiter_CancelledAcquireSurrendersQueueSlotCleanly(t *testing.T) {
	l := New(1, 1, 1)

	held, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	held.Release(OnSuccess)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err, "a later acquirer must not be stuck behind a cancelled one")
	p.Release(OnSuccess)
}

func TestLimiter_TryAcquireFailsWhenExhausted(t *testing.T) {
	l := New(1, 1, 1)

	p, ok := l.TryAcquire()
	require.True(t, ok)

	_, ok = l.TryAcquire()
	assert.False(t, ok)

	p.Release(OnSuccess)

	_, ok = l.TryAcquire()
	assert.True(t, ok)
}

func TestLimiter_DoubleReleasePanics(t *testing.T) {
	l := New(1, 1, 1)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)

	p.Release(OnSuccess)
	assert.Panics(t, func() { p.Release(OnSuccess) })
}
