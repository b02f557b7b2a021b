// Package callclient implements the resilient multi-backend HTTP call
// engine: given a Request and a ClientConfiguration naming one or more
// equivalent backend base URLs, it dispatches the request, retries or
// fails over on failure honoring server QoS signals, and returns exactly
// one terminal outcome.
package callclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/callguard/internal/backoff"
	"github.com/tonimelisma/callguard/internal/urlselector"
)

// QosMode controls whether server-side load signals (429/503) are
// retried automatically or forwarded to the caller as ordinary responses.
type QosMode int

const (
	// AutomaticRetry handles 429/503 internally (the default).
	AutomaticRetry QosMode = iota
	// PropagateToCaller forwards 429/503 responses verbatim instead of
	// retrying.
	PropagateToCaller
)

// TimeoutRetryMode controls whether read-timeouts are retried.
type TimeoutRetryMode int

const (
	// TimeoutRetryDisabled retries connect-timeouts only (the default).
	TimeoutRetryDisabled TimeoutRetryMode = iota
	// TimeoutRetryDangerousEnable retries every socket timeout, including
	// read-timeouts, which is unsafe when the operation may have already
	// succeeded server-side.
	TimeoutRetryDangerousEnable
)

// SocketExceptionRetryMode controls whether non-timeout IO failures are
// retried at all.
type SocketExceptionRetryMode int

const (
	// SocketExceptionRetryEnabled retries IO failures (the default).
	SocketExceptionRetryEnabled SocketExceptionRetryMode = iota
	// SocketExceptionRetryDangerousDisabled short-circuits all IO-failure
	// retries, including otherwise-retryable connect-timeouts.
	SocketExceptionRetryDangerousDisabled
)

// ClientConfiguration recognizes the option set from spec.md §6. It is
// built exclusively via functional options; parsing one from a file is
// explicitly a CLI-layer concern, never the core's (§1).
type ClientConfiguration struct {
	BaseURLs []string

	MaxNumRetries           int
	BackoffSlotSize         time.Duration
	MaxNumRelocations       int
	FailedURLCooldown       time.Duration
	ServerQosMode           QosMode
	RetryOnTimeout          TimeoutRetryMode
	RetryOnSocketException  SocketExceptionRetryMode
	NodeSelectionStrategy   urlselector.Strategy

	LimiterMin     int
	LimiterMax     int
	LimiterInitial int

	Transport      Transport
	Clock          Clock
	LimiterFactory LimiterFactory
	Logger         *slog.Logger
}

// Option mutates a ClientConfiguration at construction time.
type Option func(*ClientConfiguration)

// WithMaxNumRetries overrides the default of 2*len(BaseURLs).
func WithMaxNumRetries(n int) Option {
	return func(c *ClientConfiguration) { c.MaxNumRetries = n }
}

// WithBackoffSlotSize overrides the default 250ms slot size.
func WithBackoffSlotSize(d time.Duration) Option {
	return func(c *ClientConfiguration) { c.BackoffSlotSize = d }
}

// WithMaxNumRelocations overrides the default of 2*len(BaseURLs).
func WithMaxNumRelocations(n int) Option {
	return func(c *ClientConfiguration) { c.MaxNumRelocations = n }
}

// WithFailedURLCooldown overrides the default of 0 (disabled).
func WithFailedURLCooldown(d time.Duration) Option {
	return func(c *ClientConfiguration) { c.FailedURLCooldown = d }
}

// WithServerQosMode overrides the default AutomaticRetry.
func WithServerQosMode(m QosMode) Option {
	return func(c *ClientConfiguration) { c.ServerQosMode = m }
}

// WithRetryOnTimeout overrides the default TimeoutRetryDisabled.
func WithRetryOnTimeout(m TimeoutRetryMode) Option {
	return func(c *ClientConfiguration) { c.RetryOnTimeout = m }
}

// WithRetryOnSocketException overrides the default
// SocketExceptionRetryEnabled.
func WithRetryOnSocketException(m SocketExceptionRetryMode) Option {
	return func(c *ClientConfiguration) { c.RetryOnSocketException = m }
}

// WithNodeSelectionStrategy overrides the default pin_until_error
// strategy.
func WithNodeSelectionStrategy(s urlselector.Strategy) Option {
	return func(c *ClientConfiguration) { c.NodeSelectionStrategy = s }
}

// WithLimiterBounds overrides the concurrency limiter's (min, max,
// initial) AIMD credit bounds.
func WithLimiterBounds(min, max, initial int) Option {
	return func(c *ClientConfiguration) {
		c.LimiterMin = min
		c.LimiterMax = max
		c.LimiterInitial = initial
	}
}

// WithTransport overrides the default net/http-backed Transport.
func WithTransport(t Transport) Option {
	return func(c *ClientConfiguration) { c.Transport = t }
}

// WithClock overrides the default RealClock, chiefly for tests.
func WithClock(clk Clock) Option {
	return func(c *ClientConfiguration) { c.Clock = clk }
}

// WithLimiterFactory overrides the default per-(host,path-prefix) limiter
// factory.
func WithLimiterFactory(f LimiterFactory) Option {
	return func(c *ClientConfiguration) { c.LimiterFactory = f }
}

// WithLogger overrides the default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfiguration) { c.Logger = logger }
}

// DefaultConfiguration returns the ClientConfiguration spec.md §6's default
// column describes for the given base URLs, before any Option is applied.
func DefaultConfiguration(baseURLs []string) *ClientConfiguration {
	n := len(baseURLs)

	return &ClientConfiguration{
		BaseURLs:               baseURLs,
		MaxNumRetries:          2 * n,
		BackoffSlotSize:        250 * time.Millisecond,
		MaxNumRelocations:      2 * n,
		FailedURLCooldown:      0,
		ServerQosMode:          AutomaticRetry,
		RetryOnTimeout:         TimeoutRetryDisabled,
		RetryOnSocketException: SocketExceptionRetryEnabled,
		NodeSelectionStrategy:  urlselector.PinUntilError,
		LimiterMin:             1,
		LimiterMax:             256,
		LimiterInitial:         16,
	}
}

// Client dispatches LogicalCalls against a fixed set of base URLs.
type Client struct {
	cfg            *ClientConfiguration
	selector       *urlselector.Selector
	limiterFactory LimiterFactory
	transport      Transport
	clock          Clock
	logger         *slog.Logger
}

// NewClient builds a Client for baseURLs, applying opts over
// DefaultConfiguration(baseURLs).
func NewClient(baseURLs []string, opts ...Option) (*Client, error) {
	if len(baseURLs) == 0 {
		return nil, fmt.Errorf("callclient: at least one base url is required")
	}

	cfg := DefaultConfiguration(baseURLs)
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Transport == nil {
		cfg.Transport = NewHTTPTransport(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.LimiterFactory == nil {
		cfg.LimiterFactory = NewLimiterFactory(cfg.LimiterMin, cfg.LimiterMax, cfg.LimiterInitial)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		cfg:            cfg,
		selector:       urlselector.New(baseURLs, cfg.FailedURLCooldown, cfg.NodeSelectionStrategy),
		limiterFactory: cfg.LimiterFactory,
		transport:      cfg.Transport,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
	}, nil
}

func (c *Client) isKnownBaseURL(location string) bool {
	return c.selector.IsKnownBase(location)
}

// LimiterFactory returns the shared concurrency-limiter factory backing
// every LogicalCall this Client dispatches, so a caller (or a test) can
// inspect per-(host,path-prefix) credit state directly.
func (c *Client) LimiterFactory() LimiterFactory {
	return c.limiterFactory
}

// CallHandle tracks one in-flight or completed LogicalCall.
type CallHandle struct {
	done chan struct{}

	resp *Response
	err  error

	cancel context.CancelFunc
}

// Wait blocks until the call reaches its terminal outcome.
func (h *CallHandle) Wait() (*Response, error) {
	<-h.done

	return h.resp, h.err
}

func (h *CallHandle) finish(resp *Response, err error) {
	h.resp = resp
	h.err = err
	close(h.done)
}

// Submit starts req as a new LogicalCall and returns immediately. The
// logical call's context is derived from ctx: cancelling ctx, or calling
// Cancel on the returned handle, both cancel the call.
func (c *Client) Submit(ctx context.Context, req *Request) *CallHandle {
	callCtx, cancel := context.WithCancel(ctx)

	h := &CallHandle{done: make(chan struct{}), cancel: cancel}

	lc := &logicalCall{
		client:              c,
		ctx:                 callCtx,
		cancel:              cancel,
		req:                 req,
		remainingRedirects:  c.cfg.MaxNumRelocations,
		maxAttempts:         c.cfg.MaxNumRetries + 1,
		backoffGen:          backoff.NewGenerator(c.cfg.BackoffSlotSize, c.cfg.MaxNumRetries),
		handle:              h,
		callID:              uuid.NewString(),
	}

	context.AfterFunc(callCtx, lc.onContextDone)

	go lc.start()

	return h
}

// Cancel requests that handle's LogicalCall stop: no further attempts are
// dispatched, any in-flight attempt's response is discarded, and the
// caller observes ErrCancelled exactly once.
func (c *Client) Cancel(h *CallHandle) {
	h.cancel()
}

// Execute is Submit followed by Wait.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	return c.Submit(ctx, req).Wait()
}
