package callclient

import (
	"net/url"
	"strings"
	"sync"

	"github.com/tonimelisma/callguard/internal/limiter"
)

// LimiterFactory hands out the shared *limiter.Limiter for a given
// (host, path-prefix) pair, memoizing one per pair per spec.md §4.3.
type LimiterFactory interface {
	For(host, pathPrefix string) *limiter.Limiter
}

type defaultLimiterFactory struct {
	limiters sync.Map // key -> *limiter.Limiter
	min, max int
	initial  int
}

// NewLimiterFactory creates a LimiterFactory whose limiters all start at
// the same (min, max, initial) AIMD bounds.
func NewLimiterFactory(minCredits, maxCredits, initialCredits int) LimiterFactory {
	return &defaultLimiterFactory{min: minCredits, max: maxCredits, initial: initialCredits}
}

func (f *defaultLimiterFactory) For(host, pathPrefix string) *limiter.Limiter {
	key := host + "|" + pathPrefix

	if v, ok := f.limiters.Load(key); ok {
		return v.(*limiter.Limiter)
	}

	l := limiter.New(f.min, f.max, f.initial)
	actual, _ := f.limiters.LoadOrStore(key, l)

	return actual.(*limiter.Limiter)
}

// limiterKeyFor derives the (host, path-prefix) pair a URL should be
// limited under. The prefix is the first non-empty path segment, which
// keeps distinct top-level resources on the same host from sharing a cap
// without requiring the caller to configure prefixes explicitly.
func limiterKeyFor(rawURL string) (host, pathPrefix string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return u.Host, "/" + segments[0], nil
	}

	return u.Host, "/", nil
}
