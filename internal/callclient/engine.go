package callclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/callguard/internal/backoff"
	"github.com/tonimelisma/callguard/internal/classifier"
	"github.com/tonimelisma/callguard/internal/limiter"
)

// logicalCall drives a single user Request through attempts, composing
// the backoff generator, URL selector, concurrency limiter, and response
// classifier into one terminal outcome. It replaces the source system's
// per-request tag dictionary with typed fields (Design Notes §9): attempt
// bookkeeping, the held permit, and the in-flight timer all live here
// rather than on Request.
type logicalCall struct {
	client *Client
	ctx    context.Context
	cancel context.CancelFunc
	req    *Request

	maxAttempts int
	backoffGen  *backoff.Generator
	callID      string

	mu                  sync.Mutex
	remainingRedirects  int
	attempts            []*Attempt
	currentPermit       *limiter.Permit
	currentTimer        Timer
	terminated          bool

	handle *CallHandle
}

// start is the LogicalCall's entry point, run on its own goroutine so the
// caller's Submit returns immediately and no transport callback's thread
// is ever blocked by engine work.
func (lc *logicalCall) start() {
	currentURL, ok := lc.client.selector.RedirectToCurrent(lc.req.URL)
	if !ok {
		lc.terminate(nil, newInternal(fmt.Errorf("request url %q is not rooted under any configured base url", lc.req.URL)))

		return
	}

	att, ok := lc.newAttempt(currentURL)
	if !ok {
		return
	}

	lc.scheduleAttempt(0, att)
}

// newAttempt allocates and records the next Attempt against targetURL,
// including its StartTime, before any backoff delay that precedes its
// dispatch begins — so the attempt's observed duration includes the wait
// (spec.md §4.5 step 5), not just wire time. Returns ok=false if the
// call is already terminated or the attempt bound is reached; in the
// latter case it has already terminated the call itself.
func (lc *logicalCall) newAttempt(targetURL string) (*Attempt, bool) {
	lc.mu.Lock()
	if lc.terminated {
		lc.mu.Unlock()

		return nil, false
	}

	if len(lc.attempts) >= lc.maxAttempts {
		lc.mu.Unlock()
		lc.terminate(nil, newInternal(errors.New("attempt count exceeded the configured maximum")))

		return nil, false
	}

	att := &Attempt{
		SequenceNumber: len(lc.attempts),
		URL:            targetURL,
		StartTime:      lc.client.clock.Now(),
		SpanHandle:     uuid.NewString(),
	}
	lc.attempts = append(lc.attempts, att)
	lc.mu.Unlock()

	return att, true
}

// onContextDone runs once lc.ctx ends, by whatever cause (explicit
// Cancel, or the caller's own context being cancelled/timing out). It
// guarantees the LogicalCall reaches a terminal outcome even if it was
// idle in a backoff wait with no other goroutine watching the context.
func (lc *logicalCall) onContextDone() {
	lc.terminate(nil, ErrCancelled)
}

// terminate records the LogicalCall's single terminal outcome (I2). It is
// safe to call from multiple goroutines and from multiple call sites; only
// the first call has any effect. It returns whether this call won the
// race, so callers that produced a Response can tell whether they must
// close it themselves instead (required when cancellation wins the race,
// per §4.5.6).
func (lc *logicalCall) terminate(resp *Response, err error) bool {
	lc.mu.Lock()
	if lc.terminated {
		lc.mu.Unlock()

		return false
	}
	lc.terminated = true
	if lc.currentTimer != nil {
		lc.currentTimer.Stop()
		lc.currentTimer = nil
	}
	lc.mu.Unlock()

	lc.cancel()
	lc.handle.finish(resp, err)

	return true
}

func (lc *logicalCall) isTerminated() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.terminated
}

// releasePermit returns the attempt's held credit exactly once (I1),
// silently doing nothing if no permit is currently held.
func (lc *logicalCall) releasePermit(disposition limiter.Disposition) {
	lc.mu.Lock()
	p := lc.currentPermit
	lc.currentPermit = nil
	lc.mu.Unlock()

	if p != nil {
		p.Release(disposition)
	}
}

// attempt runs one dispatch of the LogicalCall for the already-allocated
// att: credit acquisition, dispatch, and classified-outcome dispatch
// (spec.md §4.5, steps 1-4). att.StartTime was recorded at schedule time
// by newAttempt, so it already covers any backoff wait preceding this
// call.
func (lc *logicalCall) attempt(att *Attempt) {
	if lc.isTerminated() {
		return
	}

	targetURL := att.URL
	seq := att.SequenceNumber

	host, pathPrefix, err := limiterKeyFor(targetURL)
	if err != nil {
		lc.terminate(nil, newInternal(fmt.Errorf("parsing target url: %w", err)))

		return
	}
	lim := lc.client.limiterFactory.For(host, pathPrefix)

	permitCtx, cancelPermitWait := context.WithCancel(lc.ctx)
	permit, err := lim.Acquire(permitCtx)
	cancelPermitWait()

	if err != nil {
		if lc.ctx.Err() != nil {
			lc.terminate(nil, ErrCancelled)

			return
		}

		lc.terminate(nil, newInternal(fmt.Errorf("acquiring concurrency credit: %w", err)))

		return
	}

	lc.mu.Lock()
	if lc.terminated {
		lc.mu.Unlock()
		permit.Release(limiter.OnIgnore)

		return
	}
	lc.currentPermit = permit
	lc.mu.Unlock()

	lc.client.logger.Debug("dispatching attempt",
		"call_id", lc.callID, "attempt", seq, "url", targetURL)

	httpReq, err := lc.buildHTTPRequest(targetURL)
	if err != nil {
		lc.releasePermit(limiter.OnIgnore)
		lc.terminate(nil, newInternal(fmt.Errorf("building request: %w", err)))

		return
	}

	resp, err := lc.client.transport.Do(httpReq)
	if err != nil {
		lc.handleTransportError(targetURL, seq, err)

		return
	}

	lc.client.selector.MarkAsSucceeded(targetURL)

	outcome, err := classifier.Classify(resp, lc.client.isKnownBaseURL)
	if err != nil {
		lc.releasePermit(limiter.OnIgnore)
		lc.terminate(nil, newInternal(fmt.Errorf("buffering response body: %w", err)))

		return
	}

	lc.handleClassified(targetURL, seq, resp, outcome)
}

func (lc *logicalCall) buildHTTPRequest(targetURL string) (*http.Request, error) {
	body, err := lc.req.Body.Open()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(lc.ctx, lc.req.Method, targetURL, body)
	if err != nil {
		return nil, err
	}

	for key, values := range lc.req.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	return req, nil
}

// handleTransportError implements step 3's IO-failure branch: mark the
// URL failed and decide, per §4.5.1, whether the failure is retryable.
func (lc *logicalCall) handleTransportError(targetURL string, seq int, err error) {
	if lc.ctx.Err() != nil {
		lc.releasePermit(limiter.OnIgnore)
		lc.terminate(nil, ErrCancelled)

		return
	}

	lc.client.logger.Warn("transport error",
		"call_id", lc.callID, "attempt", seq, "url", targetURL, "error", err)

	lc.client.selector.MarkAsFailed(targetURL)
	lc.releasePermit(limiter.OnDropped)

	if !lc.ioRetryable(err) {
		lc.terminate(nil, newIoExhausted(err))

		return
	}

	lc.scheduleFailoverRetry(targetURL, err)
}

// ioRetryable implements §4.5.1's two switches: retry_on_socket_exception
// short-circuits everything when dangerous_disabled; otherwise
// connect-timeouts are retryable by default, read-timeouts only when
// retry_on_timeout is dangerous_enable, and any non-timeout IO failure is
// retryable.
func (lc *logicalCall) ioRetryable(err error) bool {
	if lc.client.cfg.RetryOnSocketException == SocketExceptionRetryDangerousDisabled {
		return false
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		if lc.client.cfg.RetryOnTimeout == TimeoutRetryDangerousEnable {
			return true
		}

		return timeoutErr.Kind == ConnectTimeout
	}

	return true
}

// handleClassified implements step 4's classified-outcome dispatch.
func (lc *logicalCall) handleClassified(targetURL string, seq int, resp *http.Response, outcome classifier.Outcome) {
	switch outcome.Kind {
	case classifier.Success:
		lc.releasePermit(limiter.OnSuccess)
		lc.client.logger.Debug("attempt succeeded",
			"call_id", lc.callID, "attempt", seq, "url", targetURL)

		result := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}
		if !lc.terminate(result, nil) {
			_ = result.Body.Close()
		}

	case classifier.Remote:
		lc.releasePermit(limiter.OnIgnore)
		closeRespBody(resp)
		lc.terminate(nil, newRemote(outcome.StatusCode, outcome.Envelope, outcome.Body))

	case classifier.UnknownRemote:
		lc.releasePermit(limiter.OnIgnore)
		closeRespBody(resp)
		lc.terminate(nil, newUnknownRemote(outcome.StatusCode, outcome.Body))

	case classifier.QosThrottle:
		closeRespBody(resp)

		if lc.client.cfg.ServerQosMode == PropagateToCaller {
			lc.releasePermit(limiter.OnIgnore)
			lc.forwardPropagated(outcome)

			return
		}

		lc.releasePermit(limiter.OnIgnore)
		lc.client.logger.Info("throttled, scheduling same-url retry",
			"call_id", lc.callID, "attempt", seq, "url", targetURL)
		lc.scheduleThrottleRetry(targetURL, outcome.RetryAfter, qosCause(outcome))

	case classifier.QosUnavailable:
		closeRespBody(resp)

		if lc.client.cfg.ServerQosMode == PropagateToCaller {
			lc.releasePermit(limiter.OnIgnore)
			lc.forwardPropagated(outcome)

			return
		}

		lc.client.selector.MarkAsFailed(targetURL)
		lc.releasePermit(limiter.OnDropped)
		lc.client.logger.Info("unavailable, scheduling failover retry",
			"call_id", lc.callID, "attempt", seq, "url", targetURL)
		lc.scheduleFailoverRetry(targetURL, qosCause(outcome))

	case classifier.QosRetryOther:
		closeRespBody(resp)
		lc.releasePermit(limiter.OnIgnore)
		lc.client.logger.Info("following retry-other redirect",
			"call_id", lc.callID, "attempt", seq, "location", outcome.Location)
		lc.scheduleRedirectOtherRetry(targetURL, outcome.Location, qosCause(outcome))
	}
}

func (lc *logicalCall) forwardPropagated(outcome classifier.Outcome) {
	result := &Response{
		StatusCode: outcome.StatusCode,
		Header:     outcome.Header,
		Body:       io.NopCloser(bytes.NewReader(outcome.Body)),
	}

	if !lc.terminate(result, nil) {
		_ = result.Body.Close()
	}
}

// scheduleFailoverRetry implements the general retry-with-failover branch
// used by both IO failures and QosUnavailable: the retry safety gate
// (§4.5.5), then backoff, then picking the next URL (decrementing
// remaining_redirects when that URL differs from fromURL).
func (lc *logicalCall) scheduleFailoverRetry(fromURL string, cause error) {
	if lc.req.Body.Kind() == OneShotBody {
		lc.terminate(nil, newOneShotNotRetryable(cause))

		return
	}

	delay, ok := lc.backoffGen.Next()
	if !ok {
		lc.terminate(nil, newIoExhausted(cause))

		return
	}

	nextURL, ok := lc.client.selector.RedirectToNext(fromURL)
	if !ok {
		lc.terminate(nil, newIoExhausted(cause))

		return
	}

	// A failover to a different base URL counts against remaining_redirects
	// like a retry-other does; the counter never drops below zero.
	if nextURL != fromURL {
		lc.mu.Lock()
		if lc.remainingRedirects > 0 {
			lc.remainingRedirects--
		}
		lc.mu.Unlock()
	}

	att, ok := lc.newAttempt(nextURL)
	if !ok {
		return
	}

	lc.scheduleAttempt(delay, att)
}

// scheduleThrottleRetry implements §4.5.2: same URL, Retry-After takes
// priority over the backoff schedule when present.
func (lc *logicalCall) scheduleThrottleRetry(url string, retryAfter *time.Duration, cause error) {
	if lc.req.Body.Kind() == OneShotBody {
		lc.terminate(nil, newOneShotNotRetryable(cause))

		return
	}

	delay := time.Duration(0)
	if retryAfter != nil {
		delay = *retryAfter
	} else {
		d, ok := lc.backoffGen.Next()
		if !ok {
			lc.terminate(nil, newIoExhausted(cause))

			return
		}

		delay = d
	}

	att, ok := lc.newAttempt(url)
	if !ok {
		return
	}

	lc.scheduleAttempt(delay, att)
}

// scheduleRedirectOtherRetry implements §4.5.4: immediate retry against
// the resolved redirect target, decrementing remaining_redirects.
func (lc *logicalCall) scheduleRedirectOtherRetry(fromURL, location string, cause error) {
	lc.mu.Lock()
	remaining := lc.remainingRedirects
	lc.mu.Unlock()

	if remaining <= 0 {
		lc.terminate(nil, newRedirectsExhausted())

		return
	}

	if lc.req.Body.Kind() == OneShotBody {
		lc.terminate(nil, newOneShotNotRetryable(cause))

		return
	}

	nextURL, ok := lc.client.selector.RedirectTo(fromURL, location)
	if !ok {
		lc.terminate(nil, newInternal(fmt.Errorf("redirect target %q does not match a known base url", location)))

		return
	}

	lc.mu.Lock()
	lc.remainingRedirects--
	lc.mu.Unlock()

	att, ok := lc.newAttempt(nextURL)
	if !ok {
		return
	}

	lc.scheduleAttempt(0, att)
}

// scheduleAttempt schedules att's dispatch after delay, or dispatches it
// immediately when delay is zero (the RetryOther path). att was already
// allocated and appended to lc.attempts by newAttempt before this call, so
// its StartTime covers the wait. scheduleAttempt is the single place that
// creates a Timer, so cancellation (terminate) has one place to stop it.
func (lc *logicalCall) scheduleAttempt(delay time.Duration, att *Attempt) {
	lc.mu.Lock()
	if lc.terminated {
		lc.mu.Unlock()

		return
	}

	if delay <= 0 {
		lc.mu.Unlock()
		go lc.attempt(att)

		return
	}

	timer := lc.client.clock.Schedule(delay, func() {
		if lc.isTerminated() {
			return
		}

		lc.attempt(att)
	})
	lc.currentTimer = timer
	lc.mu.Unlock()
}

func closeRespBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func qosCause(outcome classifier.Outcome) error {
	switch outcome.Kind {
	case classifier.QosThrottle:
		return fmt.Errorf("callclient: throttled (status %d)", outcome.StatusCode)
	case classifier.QosUnavailable:
		return fmt.Errorf("callclient: unavailable (status %d)", outcome.StatusCode)
	case classifier.QosRetryOther:
		return fmt.Errorf("callclient: redirected to %s (status %d)", outcome.Location, outcome.StatusCode)
	default:
		return fmt.Errorf("callclient: qos status %d", outcome.StatusCode)
	}
}
