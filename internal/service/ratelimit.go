package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phyoewaiaung/devnexus-api/pkg/apperror"
)

// RateLimiter is a per-user token bucket gating message sends on the
// real-time channel. Buckets refill lazily on each attempt; there is
// no background timer. State is process local, keyed purely by user
// id, shared across all of that user's connections.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[uuid.UUID]*bucket
	burst   int
	refill  time.Duration
	now     func() time.Time
}

type bucket struct {
	tokens int
	last   time.Time // last refill accounting point
}

func NewRateLimiter(burst int, refill time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[uuid.UUID]*bucket),
		burst:   burst,
		refill:  refill,
		now:     time.Now,
	}
}

// Allow consumes one token for the user, or returns ErrRateLimited if
// the bucket is empty. Rejected attempts are not queued or retried.
func (rl *RateLimiter) Allow(userID uuid.UUID) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[userID]
	if !ok {
		b = &bucket{tokens: rl.burst, last: now}
		rl.buckets[userID] = b
	}

	// Lazy refill: one token per elapsed refill interval, capped at burst.
	if elapsed := now.Sub(b.last); elapsed >= rl.refill {
		refilled := int(elapsed / rl.refill)
		b.tokens += refilled
		if b.tokens >= rl.burst {
			b.tokens = rl.burst
			b.last = now
		} else {
			b.last = b.last.Add(time.Duration(refilled) * rl.refill)
		}
	}

	if b.tokens <= 0 {
		return apperror.ErrRateLimited
	}
	b.tokens--
	return nil
}
