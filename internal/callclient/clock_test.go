package callclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_AdvanceFiresDueTimers(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var fired bool
	clock.Schedule(10*time.Millisecond, func() { fired = true })

	clock.Advance(5 * time.Millisecond)
	assert.False(t, fired, "timer must not fire before its deadline")

	clock.Advance(5 * time.Millisecond)
	assert.True(t, fired, "timer must fire once its deadline has passed")
}

func TestFakeClock_AdvanceFiresChainedTimers(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var order []int
	clock.Schedule(5*time.Millisecond, func() {
		order = append(order, 1)
		clock.Schedule(5*time.Millisecond, func() { order = append(order, 2) })
	})

	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, []int{1, 2}, order, "a timer scheduled by a firing callback must fire in the same Advance if its own deadline is also due")
}

func TestFakeClock_StopPreventsFiring(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var fired bool
	timer := clock.Schedule(5*time.Millisecond, func() { fired = true })

	stopped := timer.Stop()
	require.True(t, stopped)

	clock.Advance(10 * time.Millisecond)
	assert.False(t, fired)
}

func TestFakeClock_StopAfterFireReturnsFalse(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	timer := clock.Schedule(5*time.Millisecond, func() {})
	clock.Advance(10 * time.Millisecond)

	assert.False(t, timer.Stop())
}

func TestFakeClock_PendingCountReflectsOutstandingTimers(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	assert.Equal(t, 0, clock.PendingCount())

	clock.Schedule(5*time.Millisecond, func() {})
	clock.Schedule(10*time.Millisecond, func() {})
	assert.Equal(t, 2, clock.PendingCount())

	clock.Advance(5 * time.Millisecond)
	assert.Equal(t, 1, clock.PendingCount())
}

func TestFakeClock_SameInstantFiresInScheduleOrder(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var order []int
	clock.Schedule(5*time.Millisecond, func() { order = append(order, 1) })
	clock.Schedule(5*time.Millisecond, func() { order = append(order, 2) })
	clock.Schedule(5*time.Millisecond, func() { order = append(order, 3) })

	clock.Advance(5 * time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, order)
}
