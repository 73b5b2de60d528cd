package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(burst int, refill time.Duration) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(burst, refill)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterBurstThenReject(t *testing.T) {
	rl, _ := newTestLimiter(5, 500*time.Millisecond)
	user := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Allow(user), "attempt %d should pass", i+1)
	}
	assert.ErrorIs(t, rl.Allow(user), apperror.ErrRateLimited)
}

func TestRateLimiterRefillsLazily(t *testing.T) {
	rl, now := newTestLimiter(5, 500*time.Millisecond)
	user := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Allow(user))
	}
	require.ErrorIs(t, rl.Allow(user), apperror.ErrRateLimited)

	// Not a full interval yet.
	*now = now.Add(499 * time.Millisecond)
	require.ErrorIs(t, rl.Allow(user), apperror.ErrRateLimited)

	// One interval elapsed, exactly one token back.
	*now = now.Add(1 * time.Millisecond)
	require.NoError(t, rl.Allow(user))
	assert.ErrorIs(t, rl.Allow(user), apperror.ErrRateLimited)
}

func TestRateLimiterCapsAtBurst(t *testing.T) {
	rl, now := newTestLimiter(5, 500*time.Millisecond)
	user := uuid.New()

	require.NoError(t, rl.Allow(user))

	// A long idle stretch refills to the cap, not beyond.
	*now = now.Add(time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Allow(user), "attempt %d should pass", i+1)
	}
	assert.ErrorIs(t, rl.Allow(user), apperror.ErrRateLimited)
}

func TestRateLimiterIsolatesUsers(t *testing.T) {
	rl, _ := newTestLimiter(5, 500*time.Millisecond)
	a := uuid.New()
	b := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Allow(a))
	}
	require.ErrorIs(t, rl.Allow(a), apperror.ErrRateLimited)

	// Exhausting one user's bucket never touches another's.
	assert.NoError(t, rl.Allow(b))
}
