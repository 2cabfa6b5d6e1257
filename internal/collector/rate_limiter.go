package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
)

// lowRemaining is the primary budget below which calls hold until the window resets
const lowRemaining = 10

// RateLimiter paces calls against GitHub's primary and secondary limits
type RateLimiter interface {
	// Wait blocks until the next call may be sent or ctx is done
	Wait(ctx context.Context) error
	// UpdateLimit records the primary budget reported by the last response
	UpdateLimit(remaining int, resetTime time.Time)
	// PauseUntil holds every call until t, as asked by a secondary limit's Retry-After
	PauseUntil(t time.Time)
}

type githubRateLimiter struct {
	mu          sync.Mutex
	remaining   int
	resetTime   time.Time
	pausedUntil time.Time
	minDelay    time.Duration
	nextCall    time.Time
	now         func() time.Time
	logger      *zap.Logger
}

// NewRateLimiter creates a new rate limiter spacing calls at least minDelay apart
func NewRateLimiter(minDelay time.Duration, logger *zap.Logger) RateLimiter {
	return &githubRateLimiter{
		remaining: 5000,
		minDelay:  minDelay,
		now:       time.Now,
		logger:    logging.OrNop(logger),
	}
}

// Wait reserves the next call slot and sleeps until it comes up.
// Concurrent callers get consecutive slots minDelay apart.
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wait := r.reserve()
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *githubRateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	slot := now

	if r.remaining <= lowRemaining {
		if r.resetTime.After(slot) {
			r.logger.Warn("rate limit low, waiting for reset",
				zap.Int("remaining", r.remaining),
				zap.Duration("wait", r.resetTime.Sub(now).Round(time.Second)))
			slot = r.resetTime
		}
		// The window will have reset by the time this slot is used
		r.remaining = 5000
	}
	if r.pausedUntil.After(slot) {
		r.logger.Warn("secondary rate limit hit, pausing",
			zap.Duration("wait", r.pausedUntil.Sub(now).Round(time.Second)))
		slot = r.pausedUntil
	}
	if r.nextCall.After(slot) {
		slot = r.nextCall
	}

	r.nextCall = slot.Add(r.minDelay)
	r.remaining--
	return slot.Sub(now)
}

// UpdateLimit updates the rate limit from API response headers
func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}

func (r *githubRateLimiter) PauseUntil(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.After(r.pausedUntil) {
		r.pausedUntil = t
	}
}
