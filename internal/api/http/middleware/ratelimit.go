package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedRateLimiter tracks one token bucket per key. Activation attempts
// are keyed by (caller IP, submitted license key) to blunt brute-force
// guessing of valid keys without throttling unrelated callers.
type KeyedRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedEntry
	limit    rate.Limit
	burst    int
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedRateLimiter allows maxAttempts per window for each key.
func NewKeyedRateLimiter(maxAttempts int, window time.Duration) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: make(map[string]*keyedEntry),
		limit:    rate.Every(window / time.Duration(maxAttempts)),
		burst:    maxAttempts,
	}
}

// Allow reports whether the key may proceed with one more attempt.
func (k *KeyedRateLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	entry, ok := k.limiters[key]
	if !ok {
		entry = &keyedEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// StartCleanup periodically drops buckets idle for longer than maxIdle.
func (k *KeyedRateLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.cleanup(maxIdle)
		}
	}
}

func (k *KeyedRateLimiter) cleanup(maxIdle time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for key, entry := range k.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(k.limiters, key)
		}
	}
}
