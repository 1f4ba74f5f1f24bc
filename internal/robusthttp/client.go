// Package robusthttp builds HTTP clients with retry and backoff for the
// platform and generator backends.
package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// LeveledSlog adapts slog to retryablehttp's LeveledLogger.
type LeveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type Option func(*retryablehttp.Client)

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(maxRetries int) Option {
	return func(client *retryablehttp.Client) {
		client.RetryMax = maxRetries
	}
}

// WithRetryWait sets the bounds of the wait between retries.
func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(client *retryablehttp.Client) {
		client.RetryWaitMin = waitMin
		client.RetryWaitMax = waitMax
	}
}

// WithLogger sets the logger retries are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(client *retryablehttp.Client) {
		client.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger})
	}
}

// WithBackoff replaces the wait computation.
func WithBackoff(backoff retryablehttp.Backoff) Option {
	return func(client *retryablehttp.Client) {
		client.Backoff = backoff
	}
}

// WithRetryPolicy replaces the retry decision.
func WithRetryPolicy(policy retryablehttp.CheckRetry) Option {
	return func(client *retryablehttp.Client) {
		client.CheckRetry = policy
	}
}

// NewRetryClient returns the configured retryablehttp client. It retries
// connection errors, 429 and 5xx (except 501), waiting out Retry-After
// and X-RateLimit-Reset when the server sends them.
func NewRetryClient(options ...Option) *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: slog.Default().With("subsystem", "robusthttp")})
	retryClient.CheckRetry = retryablehttp.DefaultRetryPolicy
	retryClient.Backoff = RateLimitBackoff

	for _, option := range options {
		option(retryClient)
	}
	return retryClient
}

// NewClient wraps NewRetryClient in the stdlib http.Client interface.
func NewClient(options ...Option) *http.Client {
	client := NewRetryClient(options...).StandardClient()
	client.Timeout = 60 * time.Second
	return client
}

// RateLimitBackoff waits until X-RateLimit-Reset on a 429 that carries it,
// and otherwise defers to retryablehttp.DefaultBackoff (which reads
// Retry-After). The wait never exceeds max.
func RateLimitBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
			if at, err := time.Parse(time.RFC3339, reset); err == nil {
				wait := time.Until(at)
				if wait < min {
					wait = min
				}
				if wait > max {
					wait = max
				}
				return wait
			}
		}
	}
	return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
}

// NoRetryOn429 retries like DefaultRetryPolicy but leaves 429 to the
// caller.
func NoRetryOn429(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
