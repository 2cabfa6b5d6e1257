package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFrozenLimiter(minDelay time.Duration) (*githubRateLimiter, time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRateLimiter(minDelay, nil).(*githubRateLimiter)
	r.now = func() time.Time { return now }
	return r, now
}

func TestRateLimiter_SpacesCalls(t *testing.T) {
	r, _ := newFrozenLimiter(100 * time.Millisecond)

	assert.Equal(t, time.Duration(0), r.reserve())
	assert.Equal(t, 100*time.Millisecond, r.reserve())
	assert.Equal(t, 200*time.Millisecond, r.reserve())
}

func TestRateLimiter_WaitsForResetWhenBudgetLow(t *testing.T) {
	r, now := newFrozenLimiter(0)

	r.UpdateLimit(3, now.Add(time.Minute))
	assert.Equal(t, time.Minute, r.reserve())

	// Later calls queue behind the slot held for the reset
	r.UpdateLimit(4000, now.Add(time.Hour))
	assert.Equal(t, time.Minute, r.reserve())
}

func TestRateLimiter_PauseUntil(t *testing.T) {
	r, now := newFrozenLimiter(0)

	r.PauseUntil(now.Add(30 * time.Second))
	r.PauseUntil(now.Add(10 * time.Second))
	assert.Equal(t, 30*time.Second, r.reserve())
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	r := NewRateLimiter(0, nil)

	require.NoError(t, r.Wait(context.Background()))

	r.PauseUntil(time.Now().Add(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	assert.ErrorIs(t, r.Wait(cancelled), context.Canceled)
}
