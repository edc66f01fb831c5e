package relay

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryProvider wraps a ModelProvider and retries transient HTTP failures
// (429 Too Many Requests, 503 Service Unavailable) with exponential backoff.
type retryProvider struct {
	inner       ModelProvider
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 3).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay before the second attempt
// (default: 1s). Each subsequent delay doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryLogger sets the structured logger for retry events. Retries log at
// WARN, final failures at ERROR. Unset means no output.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with automatic retry on transient HTTP errors. Backoff
// is exponential with jitter; when the error carries a Retry-After duration
// the delay is at least that long. Compose with any ModelProvider:
//
//	p = relay.WithRetry(openai.New(baseURL, key, model))
//	p = relay.WithRetry(openai.New(baseURL, key, model), relay.RetryMaxAttempts(5))
func WithRetry(p ModelProvider, opts ...RetryOption) ModelProvider {
	r := &retryProvider{inner: p, maxAttempts: 3, baseDelay: time.Second}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Name delegates to the inner provider.
func (r *retryProvider) Name() string { return r.inner.Name() }

// Complete implements ModelProvider with retry.
func (r *retryProvider) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	var last error
	for i := 0; i < r.maxAttempts; i++ {
		result, err := r.inner.Complete(ctx, req)
		if err == nil || !isTransient(err) {
			return result, err
		}
		last = err
		r.logger.Warn("retrying transient error",
			"provider", r.inner.Name(),
			"status", statusOf(err),
			"attempt", i+1,
			"max_attempts", r.maxAttempts)
		if i < r.maxAttempts-1 {
			timer := time.NewTimer(retryDelay(r.baseDelay, i, err))
			select {
			case <-ctx.Done():
				timer.Stop()
				return Completion{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.logger.Error("all retry attempts exhausted",
		"provider", r.inner.Name(),
		"attempts", r.maxAttempts,
		"error", last)
	return Completion{}, last
}

// isTransient reports whether err is a retryable HTTP error (429 or 503).
func isTransient(err error) bool {
	var e *HTTPError
	return errors.As(err, &e) && (e.Status == 429 || e.Status == 503)
}

// statusOf extracts the HTTP status code from an HTTPError, or 0.
func statusOf(err error) int {
	var e *HTTPError
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// retryDelay computes the delay before retry attempt i: exponential backoff
// with jitter as a floor, raised to the server's Retry-After when present.
func retryDelay(base time.Duration, i int, err error) time.Duration {
	exp := base * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(exp)/2 + 1))
	backoff := exp + jitter
	var e *HTTPError
	if errors.As(err, &e) && e.RetryAfter > backoff {
		return e.RetryAfter
	}
	return backoff
}

var _ ModelProvider = (*retryProvider)(nil)
