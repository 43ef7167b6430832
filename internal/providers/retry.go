package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// HTTPError is a non-200 response from a provider.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, 0 when absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// IsRateLimited reports whether err is a provider rate-limit or overload
// response. The agent loop owns the visible retry policy for these.
func IsRateLimited(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.Status == http.StatusTooManyRequests || httpErr.Status == 529
}

// RetryAfterHint extracts the server's requested backoff, if any.
func RetryAfterHint(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}

// isTransient reports whether err is worth a silent in-provider retry:
// connection failures and server-side errors, but not rate limits (the
// agent loop surfaces those) and not client errors.
func isTransient(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if IsRateLimited(err) {
			return false
		}
		return httpErr.Status >= 500 || httpErr.Status == http.StatusRequestTimeout
	}
	// Non-HTTP errors from the transport (dial, reset) are transient.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// RetryConfig bounds the silent retry loop inside a provider.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// RetryDo runs fn, retrying transient failures with doubling backoff.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.BaseDelay

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if attempt >= cfg.MaxRetries || !isTransient(err) {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// ParseRetryAfter interprets a Retry-After header value as either delta
// seconds or an HTTP date.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
