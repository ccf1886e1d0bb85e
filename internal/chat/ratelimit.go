package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles chat turns per actor. Idle entries are dropped
// lazily once per cleanup interval.
type RateLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	entries     map[string]*limiterEntry
	ttl         time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// NewRateLimiter allows perMinute turns per actor with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:       rate.Every(time.Minute / time.Duration(perMinute)),
		burst:       burst,
		entries:     make(map[string]*limiterEntry),
		ttl:         15 * time.Minute,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow reports whether key may start a turn now.
func (r *RateLimiter) Allow(key string) bool {
	if r == nil || key == "" {
		return true
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastCleanup) >= r.ttl {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) > r.ttl {
				delete(r.entries, k)
			}
		}
		r.lastCleanup = now
	}

	e, ok := r.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
