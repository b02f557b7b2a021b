package callclient

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyBody_OpenYieldsNoBody(t *testing.T) {
	b := EmptyBody()
	assert.Equal(t, NoBody, b.Kind())

	r, err := b.Open()
	require.NoError(t, err)
	assert.Same(t, http.NoBody, r)
}

func TestBytesBody_OpenIsReplayable(t *testing.T) {
	b := BytesBody([]byte("hello"))
	assert.Equal(t, ReplayableBody, b.Kind())

	for i := 0; i < 3; i++ {
		r, err := b.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	}
}

func TestProducerBody_OpenInvokesFactoryEveryTime(t *testing.T) {
	calls := 0
	b := ProducerBody(func() (io.ReadCloser, error) {
		calls++
		return io.NopCloser(strings.NewReader("x")), nil
	})

	assert.Equal(t, ReplayableBody, b.Kind())

	_, err := b.Open()
	require.NoError(t, err)
	_, err = b.Open()
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestStreamBody_SecondOpenFails(t *testing.T) {
	b := StreamBody(io.NopCloser(strings.NewReader("once")))
	assert.Equal(t, OneShotBody, b.Kind())

	r, err := b.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "once", string(data))

	_, err = b.Open()
	assert.ErrorIs(t, err, ErrOneShotAlreadyOpened)
}

func TestNewRequest_DefaultsToEmptyBodyAndHeaders(t *testing.T) {
	req := NewRequest("GET", "https://a.example/x")
	assert.Equal(t, NoBody, req.Body.Kind())
	assert.NotNil(t, req.Headers)

	req.Headers.Set("X-Test", "1")
	assert.Equal(t, "1", req.Headers.Get("X-Test"))
}
