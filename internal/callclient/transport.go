package callclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
)

// TimeoutKind distinguishes a connect-phase timeout from a read-phase
// timeout, determined structurally via httptrace rather than by
// inspecting an error's message (Design Notes §9).
type TimeoutKind int

const (
	// ConnectTimeout means the deadline fired before a connection was
	// obtained.
	ConnectTimeout TimeoutKind = iota
	// ReadTimeout means the deadline fired after a connection was already
	// in hand, during request write or response read.
	ReadTimeout
)

// TimeoutError wraps a transport timeout with its structurally-determined
// Kind.
type TimeoutError struct {
	Kind  TimeoutKind
	Cause error
}

func (e *TimeoutError) Error() string {
	switch e.Kind {
	case ConnectTimeout:
		return "callclient: connect timeout: " + e.Cause.Error()
	default:
		return "callclient: read timeout: " + e.Cause.Error()
	}
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// Transport issues one HTTP request and returns its response. Bodies are
// streaming; the caller owns closing them. Implementations must be safe
// for concurrent use across attempts of different LogicalCalls.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport is the default net/http-backed Transport. It installs a
// per-request httptrace.ClientTrace so timeout errors can be classified as
// connect-vs-read structurally instead of by string-sniffing the error.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport wraps client (or http.DefaultClient, if nil) as a
// Transport.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPTransport{Client: client}
}

// Do executes req, classifying any timeout error it observes into a
// *TimeoutError before returning it.
func (t *HTTPTransport) Do(req *http.Request) (*http.Response, error) {
	var gotConn atomic.Bool

	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { gotConn.Store(true) },
		TLSHandshakeDone: func(tls.ConnectionState, error) { gotConn.Store(true) },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := t.Client.Do(req)
	if err == nil {
		return resp, nil
	}

	if !isTimeout(err) {
		return nil, err
	}

	kind := ConnectTimeout
	if gotConn.Load() {
		kind = ReadTimeout
	}

	return nil, &TimeoutError{Kind: kind, Cause: err}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
