// Package upstream implements the resilient HTTP client to the storage
// microservice (circuit breaker, bounded retry with exponential
// backoff, service-discovery cache, named timeout profiles) and the
// streaming proxy gateway built on top of it.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sambena/edgegate/logger"
)

var (
	// ErrCircuitOpen is returned without attempting I/O while the
	// breaker is cooling down.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout wraps connect/read/write deadline failures.
	ErrTimeout = errors.New("upstream timeout")

	// ErrConnection wraps every other transport-level failure.
	ErrConnection = errors.New("upstream connection error")
)

// errUpstreamStatus marks a 5xx response inside the breaker execution
// so it counts as a failure while the response stays usable.
var errUpstreamStatus = errors.New("upstream returned server error")

// ClientConfig configures the resilient client.
type ClientConfig struct {
	// ServiceName labels the breaker and log events.
	ServiceName string

	// Resolver is the pluggable discovery mechanism; nil means static
	// only.
	Resolver Resolver

	// FallbackURL is the static base URL used when discovery fails.
	FallbackURL string

	DiscoveryTTL time.Duration

	PoolSize int

	// FailureThreshold is the number of consecutive transport/5xx
	// failures that opens the breaker.
	FailureThreshold uint32

	// RecoveryTimeout is the cool-down before a half-open probe.
	RecoveryTimeout time.Duration

	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RateLimit caps outbound requests per second; zero disables it.
	RateLimit float64
}

// Client wraps pooled HTTP transports to one internal microservice
// behind a circuit breaker and bounded retry.
type Client struct {
	endpoints *EndpointCache
	breaker   *gobreaker.CircuitBreaker
	retryable map[Profile]*retryablehttp.Client
	raw       map[Profile]*http.Client
	limiter   *rate.Limiter
	logger    logger.Logger
	metrics   *Metrics
}

// NewClient builds the resilient client.
func NewClient(cfg ClientConfig, log logger.Logger) (*Client, error) {
	if cfg.FallbackURL == "" {
		return nil, errors.New("upstream fallback URL is required")
	}

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	recovery := cfg.RecoveryTimeout
	if recovery == 0 {
		recovery = time.Minute
	}
	retryMax := cfg.MaxRetries
	if retryMax < 0 {
		retryMax = 0
	}
	waitMin := cfg.RetryWaitMin
	if waitMin == 0 {
		waitMin = 250 * time.Millisecond
	}
	waitMax := cfg.RetryWaitMax
	if waitMax == 0 {
		waitMax = 4 * time.Second
	}

	metrics := &Metrics{}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.ServiceName,
		MaxRequests: 1,
		Timeout:     recovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.IncrementBreakerOpened()
			}
			log.Warn("circuit breaker state changed",
				logger.String("service", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})

	c := &Client{
		endpoints: NewEndpointCache(cfg.Resolver, cfg.FallbackURL, cfg.DiscoveryTTL, log),
		breaker:   breaker,
		retryable: make(map[Profile]*retryablehttp.Client, len(profileBudgets)),
		raw:       make(map[Profile]*http.Client, len(profileBudgets)),
		logger:    log,
		metrics:   metrics,
	}

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1)
	}

	for profile, budget := range profileBudgets {
		transport := newTransport(budget, cfg.PoolSize)
		httpClient := &http.Client{Transport: transport}

		rc := &retryablehttp.Client{
			HTTPClient:   httpClient,
			RetryWaitMin: waitMin,
			RetryWaitMax: waitMax,
			RetryMax:     retryMax,
			CheckRetry:   checkRetry,
			Backoff:      retryablehttp.DefaultBackoff,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
			RequestLogHook: func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
				if attempt > 0 {
					metrics.IncrementRetries()
				}
			},
		}

		c.retryable[profile] = rc
		c.raw[profile] = httpClient
	}

	return c, nil
}

// checkRetry retries only retryable outcomes: transport errors and 5xx
// responses. A 4xx response returns immediately, it indicates a caller
// error rather than downstream health.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp != nil && resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// BaseURL returns the currently resolved upstream base URL.
func (c *Client) BaseURL(ctx context.Context) string {
	return c.endpoints.Resolve(ctx)
}

// Metrics exposes the shared counters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// BreakerState reports the current breaker state string.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// Do issues a request to the upstream service. path must start with
// "/" and may carry a query string. Requests with a nil or replayable
// body go through the retry machinery; requests with a streaming body
// are attempted once (a partially consumed stream cannot be replayed).
//
// Any HTTP response, including 4xx/5xx, is returned to the caller; 5xx
// responses and transport failures feed the circuit breaker, 4xx never
// do. When the breaker is open the call fails fast with ErrCircuitOpen
// before any I/O.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader, header http.Header, profile Profile) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}

	budget := budgetFor(profile)
	cancel := context.CancelFunc(func() {})
	if budget.Overall > 0 {
		if _, has := ctx.Deadline(); !has {
			ctx, cancel = context.WithTimeout(ctx, budget.Overall)
		}
	}

	c.metrics.IncrementRequests()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.attempt(ctx, method, path, body, header, profile)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errUpstreamStatus
		}
		return resp, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			cancel()
			c.metrics.IncrementBreakerRejected()
			return nil, ErrCircuitOpen
		case errors.Is(err, errUpstreamStatus):
			// The 5xx counted against the breaker, but the response
			// itself is a well-formed upstream answer.
			resp := result.(*http.Response)
			watchBody(resp, cancel)
			return resp, nil
		default:
			cancel()
			c.metrics.IncrementUpstreamErrors()
			return nil, classifyTransportErr(err)
		}
	}

	resp := result.(*http.Response)
	watchBody(resp, cancel)
	return resp, nil
}

// attempt performs one logical call, retrying internally when the body
// is replayable.
func (c *Client) attempt(ctx context.Context, method, path string, body io.Reader, header http.Header, profile Profile) (*http.Response, error) {
	url := c.endpoints.Resolve(ctx) + path

	if replayable(body) {
		req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		copyHeader(req.Header, header)
		setContentLength(req.Request, body)
		return c.retryable[profile].Do(req)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, header)
	setContentLength(req, body)
	return c.raw[profile].Do(req)
}

// setContentLength promotes a caller-supplied Content-Length header
// into the request's ContentLength field. The transport ignores the
// header map entry, so without this every forwarded body would go out
// with chunked encoding.
func setContentLength(req *http.Request, body io.Reader) {
	cl := req.Header.Get("Content-Length")
	if cl == "" {
		return
	}
	req.Header.Del("Content-Length")
	if body == nil {
		return
	}
	if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
		req.ContentLength = n
	}
}

// replayable reports whether the retry machinery can re-send the body.
func replayable(body io.Reader) bool {
	if body == nil {
		return true
	}
	_, seekable := body.(io.ReadSeeker)
	return seekable
}

func copyHeader(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// watchBody ties the per-call cancel function to body close so the
// deadline context stays alive while the caller streams the body.
func watchBody(resp *http.Response, cancel context.CancelFunc) {
	if resp.Body == nil {
		cancel()
		return
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Health probes the upstream /health endpoint with the quick profile.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodGet, "/health", nil, nil, ProfileQuick)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// StartHealthProbe runs periodic health checks until ctx is cancelled.
func (c *Client) StartHealthProbe(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Health(ctx); err != nil {
					c.logger.Warn("upstream health check failed", logger.Err(err))
				}
			}
		}
	}()
}
