// Package classifier turns a buffered HTTP response into exactly one
// outcome a call engine can act on, folding together status code, the
// Retry-After header, and a best-effort parse of the documented error
// envelope.
//
// Grounded on the teacher's classifyStatus/isRetryable status-code table
// (internal/graph/errors.go), extended with the redirect and envelope
// handling this system's response classification rules add.
package classifier

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Kind enumerates the possible outcomes of classifying a response.
type Kind int

const (
	// Success means the status was in the 2xx range.
	Success Kind = iota
	// QosRetryOther means a 308 redirect named a known base URL to retry
	// the same logical call against.
	QosRetryOther
	// QosThrottle means a 429; RetryAfter is populated when the server
	// gave a hint.
	QosThrottle
	// QosUnavailable means a 503.
	QosUnavailable
	// Remote means the body parsed as the documented error envelope.
	Remote
	// UnknownRemote is the fallback for any other 3xx/4xx/5xx.
	UnknownRemote
)

// Outcome is the result of classifying one response.
type Outcome struct {
	Kind       Kind
	StatusCode int

	// Location is set only for QosRetryOther, holding the resolved
	// redirect target.
	Location string

	// RetryAfter is set only for QosThrottle when the server provided a
	// parseable Retry-After header.
	RetryAfter *time.Duration

	// Envelope is set only for Remote.
	Envelope *Envelope

	// Body is the buffered response body, always populated except for
	// Success.
	Body []byte

	// Header is the response's header set, always populated, so a
	// QoS response forwarded to the caller under propagate_to_caller mode
	// keeps headers like Retry-After.
	Header http.Header
}

// KnownBaseURL reports whether a candidate redirect target names one of
// the client's configured base URLs, used to decide whether a 308 counts
// as QosRetryOther versus UnknownRemote.
type KnownBaseURL func(location string) bool

// Classify applies the classification rules in order: 2xx, then
// 308-with-known-location, then 429, then 503, then the error envelope,
// finally falling back to UnknownRemote. A 2xx response's body is left
// untouched — ownership passes straight to the caller, per the rule that a
// body is either forwarded live or buffered-and-closed, never both. Every
// other outcome buffers the body once via io.ReadAll and exposes it to
// every rule; parsing failures fall through to UnknownRemote.
func Classify(resp *http.Response, isKnownBaseURL KnownBaseURL) (Outcome, error) {
	if resp.StatusCode/100 == 2 {
		return Outcome{Kind: Success, StatusCode: resp.StatusCode, Header: resp.Header}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}

	switch {
	case resp.StatusCode == http.StatusPermanentRedirect:
		if loc := resp.Header.Get("Location"); loc != "" && isKnownBaseURL(loc) {
			out.Kind = QosRetryOther
			out.Location = loc

			return out, nil
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		out.Kind = QosThrottle
		out.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))

		return out, nil

	case resp.StatusCode == http.StatusServiceUnavailable:
		out.Kind = QosUnavailable

		return out, nil
	}

	var env Envelope
	if json.Unmarshal(body, &env) == nil && env.ErrorName != "" {
		out.Kind = Remote
		out.Envelope = &env

		return out, nil
	}

	out.Kind = UnknownRemote

	return out, nil
}

// parseRetryAfter accepts either delta-seconds or an HTTP-date, per RFC
// 7231 §7.1.3. Returns nil if header is empty or unparseable as either.
func parseRetryAfter(header string) *time.Duration {
	if header == "" {
		return nil
	}

	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			secs = 0
		}
		d := time.Duration(secs) * time.Second

		return &d
	}

	if when, err := http.ParseTime(header); err == nil {
		d := time.Until(when)
		if d < 0 {
			d = 0
		}

		return &d
	}

	return nil
}
