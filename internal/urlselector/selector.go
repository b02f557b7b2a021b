// Package urlselector tracks per-base-URL health for a multi-backend client
// and chooses the current, next, or an explicit-redirect target base URL.
//
// Grounded on the retrieval pack's Go port of this same system
// (stateful_uri_pool.go): a set of base URLs plus a failed-set that
// resurrects after a timeout. Generalized here to per-entry cooldown
// deadlines so the "pick whichever expires soonest" rule in spec.md §4.2
// can be satisfied; the reference implementation only supports one fixed
// resurrect duration for the whole pool.
package urlselector

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// Strategy selects how redirect_to_next chooses among healthy candidates.
type Strategy int

const (
	// PinUntilError sticks with the current base URL until it is marked
	// failed, then advances to the next healthy one.
	PinUntilError Strategy = iota
	// RoundRobin advances the pinned index on every redirect_to_next call,
	// regardless of health, still skipping unexpired cooldowns.
	RoundRobin
)

type entry struct {
	base string

	mu          sync.Mutex
	failedSince time.Time
	hasFailed   bool
}

func (e *entry) inCooldown(now time.Time, cooldown time.Duration) (bool, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasFailed {
		return false, time.Time{}
	}

	if cooldown <= 0 {
		// Cooldown disabled: a failed entry stays failed until explicitly
		// marked succeeded.
		return true, e.failedSince.Add(cooldown)
	}

	expiry := e.failedSince.Add(cooldown)
	if now.After(expiry) {
		return false, time.Time{}
	}

	return true, expiry
}

func (e *entry) markFailed(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasFailed = true
	e.failedSince = now
}

func (e *entry) markSucceeded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasFailed = false
	e.failedSince = time.Time{}
}

// Selector maintains the health table for an ordered set of base URLs.
type Selector struct {
	cooldown time.Duration
	strategy Strategy
	now      func() time.Time

	entries []*entry // fixed order, matches configuration order

	mu     sync.Mutex
	pinned int // index into entries of the currently preferred base URL
}

// New creates a Selector over baseURLs (which must be non-empty, scheme+host
// base URLs with no path). cooldown of zero disables resurrection: a failed
// URL stays failed until explicitly marked succeeded.
func New(baseURLs []string, cooldown time.Duration, strategy Strategy) *Selector {
	entries := make([]*entry, len(baseURLs))
	for i, b := range baseURLs {
		entries[i] = &entry{base: strings.TrimRight(b, "/")}
	}

	return &Selector{
		cooldown: cooldown,
		strategy: strategy,
		now:      time.Now,
		entries:  entries,
	}
}

// BaseURLs returns the configured base URLs in their original order.
func (s *Selector) BaseURLs() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.base
	}

	return out
}

// RedirectToCurrent rebases requestURL onto the currently preferred base
// URL, preserving path/query/fragment. Since base URLs carry no path, any
// request path can be rooted under one: the request's own scheme and host
// need not match a known base, and false is returned only when requestURL
// or the base URL fails to parse.
func (s *Selector) RedirectToCurrent(requestURL string) (string, bool) {
	s.mu.Lock()
	idx := s.pinned
	s.mu.Unlock()

	return s.rebase(requestURL, s.entries[idx].base)
}

// RedirectToNext chooses a base URL distinct from the one encoded in
// requestURL, honoring cooldowns and the configured Strategy. If every
// entry is in cooldown, it picks the one whose cooldown expires soonest.
func (s *Selector) RedirectToNext(requestURL string) (string, bool) {
	if len(s.entries) == 0 {
		return "", false
	}

	now := s.now()
	currentIdx := s.currentEntryIndex(requestURL)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.strategy {
	case RoundRobin:
		s.pinned = (s.pinned + 1) % len(s.entries)
	case PinUntilError:
		if s.pinned == currentIdx || currentIdx < 0 {
			s.pinned = (s.pinned + 1) % len(s.entries)
		}
	}

	target := s.healthyCandidateLocked(currentIdx, now)
	if target < 0 {
		return "", false
	}

	s.pinned = target

	return s.rebase(requestURL, s.entries[target].base)
}

// healthyCandidateLocked must be called with s.mu held. It returns the index
// of a healthy entry other than exclude, preferring s.pinned and walking
// forward; if every entry is in cooldown it returns the one expiring
// soonest.
func (s *Selector) healthyCandidateLocked(exclude int, now time.Time) int {
	n := len(s.entries)

	soonestIdx := -1
	var soonestExpiry time.Time

	for step := 0; step < n; step++ {
		idx := (s.pinned + step) % n

		inCooldown, expiry := s.entries[idx].inCooldown(now, s.cooldown)
		if !inCooldown && idx != exclude {
			return idx
		}

		if !inCooldown {
			// Only entry healthy is the excluded one itself; keep looking,
			// but remember it as a last resort below.
			if soonestIdx < 0 {
				soonestIdx = idx
				soonestExpiry = time.Time{}
			}

			continue
		}

		if soonestIdx < 0 || expiry.Before(soonestExpiry) {
			soonestIdx = idx
			soonestExpiry = expiry
		}
	}

	return soonestIdx
}

// IsKnownBase reports whether target's scheme+authority matches one of the
// configured base URLs, ignoring path.
func (s *Selector) IsKnownBase(target string) bool {
	parsed, err := url.Parse(target)
	if err != nil {
		return false
	}

	for _, e := range s.entries {
		parsedBase, err := url.Parse(e.base)
		if err != nil {
			continue
		}

		if parsedBase.Scheme == parsed.Scheme && parsedBase.Host == parsed.Host {
			return true
		}
	}

	return false
}

// RedirectTo rebases requestURL onto explicitTarget if explicitTarget's
// scheme+authority matches a known base URL (path is ignored for matching).
func (s *Selector) RedirectTo(requestURL, explicitTarget string) (string, bool) {
	target, err := url.Parse(explicitTarget)
	if err != nil {
		return "", false
	}

	for i, e := range s.entries {
		parsed, err := url.Parse(e.base)
		if err != nil {
			continue
		}

		if parsed.Scheme == target.Scheme && parsed.Host == target.Host {
			s.mu.Lock()
			s.pinned = i
			s.mu.Unlock()

			return s.rebase(requestURL, e.base)
		}
	}

	return "", false
}

// MarkAsFailed flips the health of the base URL underlying requestURL to
// failed, starting its cooldown clock now.
func (s *Selector) MarkAsFailed(requestURL string) {
	idx := s.currentEntryIndex(requestURL)
	if idx < 0 {
		return
	}

	s.entries[idx].markFailed(s.now())
}

// MarkAsSucceeded clears the failed state of the base URL underlying
// requestURL.
func (s *Selector) MarkAsSucceeded(requestURL string) {
	idx := s.currentEntryIndex(requestURL)
	if idx < 0 {
		return
	}

	s.entries[idx].markSucceeded()
}

func (s *Selector) currentEntryIndex(requestURL string) int {
	parsed, err := url.Parse(requestURL)
	if err != nil {
		return -1
	}

	for i, e := range s.entries {
		parsedBase, err := url.Parse(e.base)
		if err != nil {
			continue
		}

		if parsedBase.Scheme == parsed.Scheme && parsedBase.Host == parsed.Host {
			return i
		}
	}

	return -1
}

func (s *Selector) rebase(requestURL, base string) (string, bool) {
	parsedReq, err := url.Parse(requestURL)
	if err != nil {
		return "", false
	}

	parsedBase, err := url.Parse(base)
	if err != nil {
		return "", false
	}

	out := *parsedReq
	out.Scheme = parsedBase.Scheme
	out.Host = parsedBase.Host

	return out.String(), true
}
