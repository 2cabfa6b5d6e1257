package collector

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(retries int) *RetryConfig {
	return &RetryConfig{
		Timeout:        time.Second,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func githubError(status int) error {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: status},
		Message:  http.StatusText(status),
	}
}

func TestExecuteWithRetry_RetriesTransientFailure(t *testing.T) {
	attempts := 0
	err := executeWithRetry(context.Background(), fastRetry(1), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return githubError(http.StatusBadGateway)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestExecuteWithRetry_StopsOnClientError(t *testing.T) {
	attempts := 0
	err := executeWithRetry(context.Background(), fastRetry(3), func(ctx context.Context) error {
		attempts++
		return githubError(http.StatusNotFound)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteWithRetry_ExhaustsBudget(t *testing.T) {
	attempts := 0
	err := executeWithRetry(context.Background(), fastRetry(2), func(ctx context.Context) error {
		attempts++
		return githubError(http.StatusServiceUnavailable)
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetry_AttemptTimeout(t *testing.T) {
	cfg := fastRetry(0)
	cfg.Timeout = 10 * time.Millisecond

	err := executeWithRetry(context.Background(), cfg, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExecuteWithRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := executeWithRetry(ctx, fastRetry(3), func(ctx context.Context) error {
		attempts++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &github.RateLimitError{}, true},
		{"too many requests", githubError(http.StatusTooManyRequests), true},
		{"server error", githubError(http.StatusInternalServerError), true},
		{"forbidden", githubError(http.StatusForbidden), false},
		{"unprocessable", githubError(http.StatusUnprocessableEntity), false},
		{"transport", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestBackoff(t *testing.T) {
	cfg := &RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, backoff(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, backoff(cfg, 1))
	assert.Equal(t, 300*time.Millisecond, backoff(cfg, 2))
}
