// Package ratelimit throttles repeated login attempts per client key so the
// identity-provider exchange endpoint cannot be used for credential stuffing
// or amplification.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiter tracks a token-bucket limiter per client key. The burst equals
// the configured attempt threshold; tokens refill over the window, so once a
// client exhausts the threshold further attempts are rejected until the
// window rolls on.
type LoginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a limiter allowing at most attempts per window for each key.
func New(attempts int, window time.Duration) *LoginLimiter {
	if attempts <= 0 {
		attempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &LoginLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(attempts) / window.Seconds()),
		burst:    attempts,
	}
}

// Allow reports whether the client may attempt a login now. Counters are
// created lazily on first attempt.
func (l *LoginLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Reset clears the counter for a key. Called on successful authentication so
// legitimate users are not penalized for prior failed attempts.
func (l *LoginLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

func (l *LoginLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}
