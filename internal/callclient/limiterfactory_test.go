package callclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterKeyFor_FirstPathSegmentIsPrefix(t *testing.T) {
	host, prefix, err := limiterKeyFor("https://a.example/orders/123")
	require.NoError(t, err)
	assert.Equal(t, "a.example", host)
	assert.Equal(t, "/orders", prefix)
}

func TestLimiterKeyFor_RootPathIsSlash(t *testing.T) {
	host, prefix, err := limiterKeyFor("https://a.example/")
	require.NoError(t, err)
	assert.Equal(t, "a.example", host)
	assert.Equal(t, "/", prefix)
}

func TestDefaultLimiterFactory_MemoizesByHostAndPrefix(t *testing.T) {
	f := NewLimiterFactory(1, 10, 2)

	a1 := f.For("a.example", "/orders")
	a2 := f.For("a.example", "/orders")
	assert.Same(t, a1, a2, "the same (host, prefix) pair must share one limiter")

	b := f.For("a.example", "/invoices")
	assert.NotSame(t, a1, b, "distinct prefixes under the same host must get distinct limiters")

	c := f.For("b.example", "/orders")
	assert.NotSame(t, a1, c, "distinct hosts must get distinct limiters even with the same prefix")
}
