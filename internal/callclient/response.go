package callclient

import (
	"bytes"
	"io"
	"net/http"

	"go.uber.org/multierr"
)

// Response is the terminal success value of a LogicalCall. Body is
// streaming by default; callers that need to inspect it more than once
// should call Buffer first.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser

	buffered   []byte
	isBuffered bool
}

// Buffer reads Body fully into memory, closes the original stream, and
// returns the bytes. Subsequent calls return the cached bytes without
// touching the network again.
func (r *Response) Buffer() ([]byte, error) {
	if r.isBuffered {
		return r.buffered, nil
	}

	data, err := io.ReadAll(r.Body)
	closeErr := r.Body.Close()
	// Reading and closing can fail independently (truncated body, reused
	// connection that resets on close); combine rather than silently
	// dropping one.
	if combined := multierr.Combine(err, closeErr); combined != nil {
		return nil, combined
	}

	r.buffered = data
	r.isBuffered = true
	r.Body = io.NopCloser(bytes.NewReader(data))

	return data, nil
}
