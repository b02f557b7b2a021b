package callclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_SuccessPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.Client())

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := tr.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPTransport_ReadTimeoutClassifiedAfterConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := *srv.Client()
	client.Timeout = 20 * time.Millisecond
	tr := NewHTTPTransport(&client)

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = tr.Do(req)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, ReadTimeout, timeoutErr.Kind, "the handshake completed before the deadline fired, so this must classify as a read timeout")
}

func TestHTTPTransport_ConnectTimeoutOnUnroutableAddress(t *testing.T) {
	// 10.255.255.1 is a well-known non-routable address used by net/http's
	// own tests to force a dial that hangs instead of failing fast.
	client := http.Client{Timeout: 20 * time.Millisecond}
	tr := NewHTTPTransport(&client)

	req, err := http.NewRequest(http.MethodGet, "http://10.255.255.1:1/", nil)
	require.NoError(t, err)

	_, err = tr.Do(req)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, ConnectTimeout, timeoutErr.Kind)
}

func TestHTTPTransport_NonTimeoutErrorPassesThroughUnwrapped(t *testing.T) {
	tr := NewHTTPTransport(http.DefaultClient)

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
	require.NoError(t, err)

	_, err = tr.Do(req)
	require.Error(t, err)

	var timeoutErr *TimeoutError
	assert.False(t, errors.As(err, &timeoutErr), "a connection-refused error is not a timeout and must not be wrapped as one")
}
