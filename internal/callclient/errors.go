package callclient

import (
	"errors"
	"fmt"

	"github.com/tonimelisma/callguard/internal/classifier"
)

// Sentinel errors for the call engine's outcome taxonomy. Use errors.Is to
// classify a terminal error; CallError carries the detail behind it.
var (
	ErrIoExhausted         = errors.New("callclient: io retries exhausted")
	ErrRedirectsExhausted  = errors.New("callclient: redirects exhausted")
	ErrOneShotNotRetryable = errors.New("callclient: one-shot body not retryable")
	ErrRemote              = errors.New("callclient: remote structured error")
	ErrUnknownRemote       = errors.New("callclient: unknown remote error")
	ErrCancelled           = errors.New("callclient: cancelled")
	ErrInternal            = errors.New("callclient: internal error")
)

// CallError is the detailed terminal error of a LogicalCall. Its Unwrap
// exposes the matching sentinel above (and, when present, the underlying
// cause) so callers can classify with errors.Is/errors.As.
type CallError struct {
	kind       error
	StatusCode int
	Envelope   *classifier.Envelope
	Body       []byte
	Cause      error
}

func (e *CallError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Cause != nil:
		return fmt.Sprintf("%s (status %d): %v", e.kind, e.StatusCode, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s (status %d)", e.kind, e.StatusCode)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.kind, e.Cause)
	default:
		return e.kind.Error()
	}
}

// Unwrap exposes both the taxonomy sentinel and the underlying cause, so
// errors.Is(err, ErrIoExhausted) and errors.Is(err, theOriginalCause) both
// work against the same CallError.
func (e *CallError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.kind, e.Cause}
	}

	return []error{e.kind}
}

func newIoExhausted(cause error) *CallError {
	return &CallError{kind: ErrIoExhausted, Cause: cause}
}

func newRedirectsExhausted() *CallError {
	return &CallError{kind: ErrRedirectsExhausted}
}

func newOneShotNotRetryable(cause error) *CallError {
	return &CallError{kind: ErrOneShotNotRetryable, Cause: cause}
}

func newRemote(statusCode int, envelope *classifier.Envelope, body []byte) *CallError {
	return &CallError{kind: ErrRemote, StatusCode: statusCode, Envelope: envelope, Body: body}
}

func newUnknownRemote(statusCode int, body []byte) *CallError {
	return &CallError{kind: ErrUnknownRemote, StatusCode: statusCode, Body: body}
}

func newInternal(cause error) *CallError {
	return &CallError{kind: ErrInternal, Cause: cause}
}
