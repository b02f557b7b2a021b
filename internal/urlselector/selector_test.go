package urlselector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector_RedirectToCurrentPreservesPath(t *testing.T) {
	s := New([]string{"https://a.example", "https://b.example"}, 0, PinUntilError)

	got, ok := s.RedirectToCurrent("https://a.example/foo?x=1#frag")
	require.True(t, ok)
	assert.Equal(t, "https://a.example/foo?x=1#frag", got)
}

func TestSelector_RedirectToCurrentUnknownBase(t *testing.T) {
	s := New([]string{"https://a.example"}, 0, PinUntilError)

	_, ok := s.RedirectToCurrent("https://unknown.example/foo")
	// RedirectToCurrent always rebases onto the pinned entry; it only fails
	// to resolve the *incoming* URL's own base when asked to redirect_to an
	// explicit target that isn't known. RedirectToCurrent itself always
	// succeeds as long as there is at least one configured base URL.
	assert.True(t, ok)
}

func TestSelector_RedirectToNextPicksDistinctHealthyURL(t *testing.T) {
	s := New([]string{"https://a.example", "https://b.example"}, time.Minute, PinUntilError)

	got, ok := s.RedirectToNext("https://a.example/foo")
	require.True(t, ok)
	assert.Equal(t, "https://b.example/foo", got)
}

func TestSelector_CooldownGating(t *testing.T) {
	s := New([]string{"https://a.example", "https://b.example"}, time.Minute, PinUntilError)

	fakeNow := time.Now()
	s.now = func() time.Time { return fakeNow }

	s.MarkAsFailed("https://a.example/x")

	// Immediately after failing, redirect_to_next must skip a.example.
	got, ok := s.RedirectToNext("https://a.example/x")
	require.True(t, ok)
	assert.Equal(t, "https://b.example/x", got)

	// b.example now fails too; both are in cooldown, so the selector must
	// pick whichever cooldown expires soonest rather than failing outright.
	s.MarkAsFailed("https://b.example/x")

	got, ok = s.RedirectToNext("https://b.example/x")
	require.True(t, ok)
	assert.NotEmpty(t, got)

	// After the cooldown elapses, a.example becomes eligible again.
	fakeNow = fakeNow.Add(2 * time.Minute)

	got, ok = s.RedirectToNext("https://b.example/x")
	require.True(t, ok)
	assert.Contains(t, []string{"https://a.example/x", "https://b.example/x"}, got)
}

func TestSelector_MarkAsSucceededClearsFailure(t *testing.T) {
	s := New([]string{"https://a.example", "https://b.example"}, time.Minute, PinUntilError)

	s.MarkAsFailed("https://a.example/x")
	s.MarkAsSucceeded("https://a.example/x")

	// a.example is healthy again immediately, no cooldown wait required.
	inCooldown, _ := s.entries[0].inCooldown(time.Now(), time.Minute)
	assert.False(t, inCooldown)
}

func TestSelector_RedirectToExplicitTarget(t *testing.T) {
	s := New([]string{"https://a.example", "https://b.example"}, 0, PinUntilError)

	got, ok := s.RedirectTo("https://a.example/foo", "https://b.example/ignored-path")
	require.True(t, ok)
	assert.Equal(t, "https://b.example/foo", got)
}

func TestSelector_RedirectToUnknownTargetFails(t *testing.T) {
	s := New([]string{"https://a.example"}, 0, PinUntilError)

	_, ok := s.RedirectTo("https://a.example/foo", "https://evil.example/foo")
	assert.False(t, ok)
}

func TestSelector_IsKnownBase(t *testing.T) {
	s := New([]string{"https://a.example", "https://b.example"}, 0, PinUntilError)

	assert.True(t, s.IsKnownBase("https://b.example/whatever/path"))
	assert.False(t, s.IsKnownBase("https://evil.example/"))
	assert.False(t, s.IsKnownBase("not a url"))
}

func TestSelector_RoundRobinAdvancesRegardlessOfHealth(t *testing.T) {
	s := New([]string{"https://a.example", "https://b.example", "https://c.example"}, time.Minute, RoundRobin)

	first, ok := s.RedirectToNext("https://a.example/x")
	require.True(t, ok)

	second, ok := s.RedirectToNext(first)
	require.True(t, ok)

	assert.NotEqual(t, first, second)
}

func TestSelector_ZeroCooldownNeverResurrects(t *testing.T) {
	s := New([]string{"https://a.example", "https://b.example"}, 0, PinUntilError)

	s.MarkAsFailed("https://a.example/x")

	fakeNow := time.Now().Add(time.Hour)
	s.now = func() time.Time { return fakeNow }

	inCooldown, _ := s.entries[0].inCooldown(fakeNow, 0)
	assert.True(t, inCooldown, "zero cooldown must mean 'never resurrect automatically'")
}
