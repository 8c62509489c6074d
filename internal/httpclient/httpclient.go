// Package httpclient implements the Rate-Limited External Client
// (spec §4.C): a per-provider HTTP client that enforces a token-bucket
// rate limit, trips a circuit breaker on sustained failure, and
// retries transient errors with backoff that honors Retry-After.
// Grounded on the teacher's internal/metadata/client.go CacheClient,
// which loops on a 429 response sleeping for a fixed backoff; this
// generalizes that loop to arbitrary providers and adds
// golang.org/x/time/rate (token bucket) and sony/gobreaker (circuit
// breaker), both present in the wider example pack's dependency
// surface but unused by the teacher itself.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/mediaforge/mediaforge/internal/apperr"
)

// Config tunes a single provider's Client (spec §4.C "per-provider
// rate limit and circuit breaker").
type Config struct {
	// RequestsPerSecond is the steady-state token-bucket refill rate.
	RequestsPerSecond float64
	// Burst is the token-bucket capacity.
	Burst int
	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int
	// BaseBackoff is the initial retry delay; doubled each attempt.
	BaseBackoff time.Duration
	// BreakerFailureThreshold is consecutive failures before the
	// breaker opens.
	BreakerFailureThreshold uint32
	// BreakerOpenTimeout is how long the breaker stays open before
	// allowing a probe request through.
	BreakerOpenTimeout time.Duration
}

// DefaultConfig returns sane defaults for a provider that has no
// documented rate limit (spec §4.C default policy).
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond:       4,
		Burst:                   4,
		MaxRetries:              3,
		BaseBackoff:             time.Second,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}
}

// Client is a rate-limited, circuit-broken HTTP client scoped to one
// external provider.
type Client struct {
	name       string
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	baseBackoff time.Duration
	logger     *log.Logger
}

// New constructs a Client named name (used in breaker naming and log
// lines), e.g. "tmdb" or "fanarttv".
func New(name string, cfg Config, logger *log.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
	})
	return &Client{
		name:        name,
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:     breaker,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		logger:      logger,
	}
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Do executes req, waiting on the rate limiter, routing through the
// circuit breaker, and retrying transient failures with backoff
// (spec §4.C "Behavior"). The caller owns closing the returned
// response body. req.Body, if non-nil, must support GetBody for
// retries to re-send it.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseBackoff * time.Duration(1<<uint(attempt-1))
			if retryAfter, ok := retryAfterFrom(lastErr); ok && retryAfter > delay {
				delay = retryAfter
			}
			select {
			case <-ctx.Done():
				return nil, apperr.Wrap(apperr.KindCancellation, "context cancelled during retry wait", ctx.Err())
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Wrap(apperr.KindCancellation, "rate limiter wait cancelled", err)
		}

		attemptReq := req
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, apperr.Wrap(apperr.KindIO, "rebuilding request body for retry", err)
			}
			clone := req.Clone(ctx)
			clone.Body = io.NopCloser(body)
			attemptReq = clone
		}

		result, breakerErr := c.breaker.Execute(func() (interface{}, error) {
			resp, err := c.http.Do(attemptReq)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindTransient, "request failed", err)
			}
			if classifyStatus(resp.StatusCode).Retryable() {
				wait := parseRetryAfter(resp.Header.Get("Retry-After"))
				resp.Body.Close()
				kind := apperr.KindTransient
				if resp.StatusCode == http.StatusTooManyRequests {
					kind = apperr.KindRateLimit
				}
				return nil, &retryableStatus{kind: kind, status: resp.StatusCode, retryAfter: wait}
			}
			if resp.StatusCode >= 400 {
				defer resp.Body.Close()
				return nil, apperr.New(classifyStatus(resp.StatusCode), fmt.Sprintf("%s: http %d", c.name, resp.StatusCode))
			}
			return resp, nil
		})

		if breakerErr == nil {
			return result.(*http.Response), nil
		}
		lastErr = breakerErr
		if breakerErr == gobreaker.ErrOpenState || breakerErr == gobreaker.ErrTooManyRequests {
			c.logf("httpclient[%s]: circuit open, attempt %d", c.name, attempt)
			continue
		}
		if !apperr.Retryable(breakerErr) {
			return nil, breakerErr
		}
		c.logf("httpclient[%s]: transient failure on attempt %d: %v", c.name, attempt, breakerErr)
	}
	return nil, fmt.Errorf("httpclient[%s]: exhausted %d retries: %w", c.name, c.maxRetries, lastErr)
}

// retryableStatus carries a retry-after hint through the breaker back
// up to the retry loop.
type retryableStatus struct {
	kind       apperr.Kind
	status     int
	retryAfter time.Duration
}

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("http %d (retryable)", e.status)
}

// Unwrap exposes the taxonomy classification so apperr.Retryable and
// apperr.ClassOf see this as a normal classified error.
func (e *retryableStatus) Unwrap() error {
	return apperr.New(e.kind, fmt.Sprintf("http %d", e.status))
}

func retryAfterFrom(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	rs, ok := err.(*retryableStatus)
	if !ok {
		return 0, false
	}
	return rs.retryAfter, rs.retryAfter > 0
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		return time.Until(when)
	}
	return 0
}

// classifyStatus maps an HTTP status code to an error taxonomy kind
// (spec §7).
func classifyStatus(status int) apperr.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return apperr.KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.KindAuthConfig
	case status == http.StatusNotFound:
		return apperr.KindNotFound
	case status >= 500:
		return apperr.KindTransient
	case status >= 400:
		return apperr.KindValidation
	default:
		return apperr.KindUnknown
	}
}
