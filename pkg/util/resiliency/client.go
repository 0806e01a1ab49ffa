// Package resiliency wraps outbound HTTP calls with retries, backoff with
// jitter and a circuit breaker.
package resiliency

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrCircuitOpen is returned without attempting the request while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Options tunes an EnhancedClient. Zero fields take defaults.
type Options struct {
	Name         string
	Timeout      time.Duration
	MaxRetries   int
	BaseBackoff  time.Duration
	Threshold    int
	ResetTimeout time.Duration
	Transport    http.RoundTripper
	Logger       *slog.Logger
}

// EnhancedClient retries transport errors and 5xx responses with exponential
// backoff and jitter, and stops calling a dependency that keeps failing.
type EnhancedClient struct {
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
	breaker     *CircuitBreaker
	logger      *slog.Logger
}

func NewEnhancedClient(opts Options) *EnhancedClient {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 100 * time.Millisecond
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 5
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &EnhancedClient{
		client:      &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		maxRetries:  opts.MaxRetries,
		baseBackoff: opts.BaseBackoff,
		breaker:     NewCircuitBreaker(opts.Name, opts.Threshold, opts.ResetTimeout),
		logger:      opts.Logger.With("component", "resiliency", "client", opts.Name),
	}
}

// Breaker exposes the client's circuit breaker.
func (c *EnhancedClient) Breaker() *CircuitBreaker { return c.breaker }

// Do sends req, retrying while the request context allows. Requests with a
// body are only retried when req.GetBody is set. Transport errors carry the
// URL with sensitive query values masked.
func (c *EnhancedClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, c.breaker.name)
	}

	var (
		resp *http.Response
		err  error
	)
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.Body != nil && req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, fmt.Errorf("rewind request body: %w", berr)
			}
			req.Body = body
		}

		resp, err = c.client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			c.breaker.Success()
			return resp, nil
		}

		retryable := attempt < c.maxRetries && ctx.Err() == nil && (req.Body == nil || req.GetBody != nil)
		if !retryable {
			break
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		wait := c.backoff(attempt)
		c.logger.DebugContext(ctx, "retrying request", "url", RedactURL(req.URL), "attempt", attempt+1, "wait", wait, "error", RedactError(err))
		if serr := sleep(ctx, wait); serr != nil {
			err = serr
			resp = nil
			break
		}
	}

	c.breaker.Failure()
	return resp, RedactError(err)
}

func (c *EnhancedClient) backoff(attempt int) time.Duration {
	d := c.baseBackoff << attempt
	if n, err := rand.Int(rand.Reader, big.NewInt(int64(c.baseBackoff/2)+1)); err == nil {
		d += time.Duration(n.Int64())
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// CircuitBreaker opens after threshold consecutive failures and lets one
// probe through once resetTimeout has passed.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        State
	now          func() time.Time
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		// One probe at a time.
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = StateOpen
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
