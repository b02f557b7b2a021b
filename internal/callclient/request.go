package callclient

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// BodyKind distinguishes how a request body may be replayed across
// attempts of the same LogicalCall.
type BodyKind int

const (
	// NoBody means the request carries no body.
	NoBody BodyKind = iota
	// ReplayableBody means Open can be called any number of times, each
	// returning an independent fresh reader over the same content.
	ReplayableBody
	// OneShotBody means the underlying stream can be opened exactly once;
	// a LogicalCall that needs to retry a OneShot-bodied request must
	// terminate instead.
	OneShotBody
)

// ErrOneShotAlreadyOpened is returned by Body.Open when a OneShot body is
// opened a second time. The call engine's retry safety gate (§4.5.5) is
// expected to prevent this from ever happening in practice; it exists as a
// backstop against the invariant being violated elsewhere.
var ErrOneShotAlreadyOpened = errors.New("callclient: one-shot body already opened")

// Body is the request payload. Its Kind determines whether a LogicalCall
// may retry after the body has been opened once.
type Body interface {
	Kind() BodyKind
	// Open returns a fresh reader over the body's content. For
	// ReplayableBody this may be called any number of times. For
	// OneShotBody, only the first call succeeds.
	Open() (io.ReadCloser, error)
}

type noBody struct{}

func (noBody) Kind() BodyKind             { return NoBody }
func (noBody) Open() (io.ReadCloser, error) { return http.NoBody, nil }

// EmptyBody is a Body carrying no payload.
func EmptyBody() Body { return noBody{} }

type bytesBody struct {
	data []byte
}

func (b *bytesBody) Kind() BodyKind { return ReplayableBody }

func (b *bytesBody) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// BytesBody wraps a fixed byte slice as a replayable body.
func BytesBody(data []byte) Body {
	return &bytesBody{data: data}
}

type producerBody struct {
	open func() (io.ReadCloser, error)
}

func (b *producerBody) Kind() BodyKind { return ReplayableBody }

func (b *producerBody) Open() (io.ReadCloser, error) {
	return b.open()
}

// ProducerBody wraps a factory function as a replayable body: open is
// invoked fresh on every attempt, so it must itself be able to re-read the
// underlying source (for example by re-opening a file or re-seeking a
// buffer).
func ProducerBody(open func() (io.ReadCloser, error)) Body {
	return &producerBody{open: open}
}

type streamBody struct {
	stream io.ReadCloser
	opened bool
}

func (b *streamBody) Kind() BodyKind { return OneShotBody }

func (b *streamBody) Open() (io.ReadCloser, error) {
	if b.opened {
		return nil, ErrOneShotAlreadyOpened
	}
	b.opened = true

	return b.stream, nil
}

// StreamBody wraps a single-use stream (for example request bodies backed
// by an upload that cannot be rewound) as a OneShot body.
func StreamBody(stream io.ReadCloser) Body {
	return &streamBody{stream: stream}
}

// Request is the immutable description of a single logical HTTP call.
// Unlike the callback-based systems this engine descends from, Request
// carries no per-call tag dictionary: attempt counters, span handles, and
// the held limiter permit live on the unexported logicalCall instead.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    Body
}

// NewRequest builds a Request with an empty body and no headers set beyond
// what the caller adds to the returned value.
func NewRequest(method, url string) *Request {
	return &Request{
		Method:  method,
		URL:     url,
		Headers: make(http.Header),
		Body:    EmptyBody(),
	}
}
