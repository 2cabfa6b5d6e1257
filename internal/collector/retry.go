package collector

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/go-github/v55/github"
)

// RetryConfig bounds every remote call with a timeout and a retry budget
type RetryConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig allows a single retry of a 30 second call
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		Timeout:        30 * time.Second,
		MaxRetries:     1,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// executeWithRetry runs operation with a per-attempt timeout, retrying transient failures
func executeWithRetry(ctx context.Context, cfg *RetryConfig, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = runAttempt(ctx, cfg.Timeout, operation)
		if lastErr == nil {
			return nil
		}

		// The caller gave up, not the remote
		if ctx.Err() != nil || !isRetryableError(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}

	return lastErr
}

func runAttempt(ctx context.Context, timeout time.Duration, operation func(ctx context.Context) error) error {
	if timeout <= 0 {
		return operation(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return operation(attemptCtx)
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		if ghErr.Response == nil {
			return false
		}
		switch ghErr.Response.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	// Transport failures and per-attempt timeouts
	return true
}

func backoff(cfg *RetryConfig, attempt int) time.Duration {
	d := cfg.InitialBackoff << uint(attempt)
	if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
		d = cfg.MaxBackoff
	}
	return d
}
