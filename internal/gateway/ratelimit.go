package gateway

import (
	"sync"
	"time"
)

const maxTrackedKeys = 4096

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// RateLimiter bounds requests per minute per key (the gateway server keys it
// by client connection ID), independent of the ingress limiter C9 applies
// per message. Disabled when rpm <= 0.
type RateLimiter struct {
	rpm     int
	burst   int
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

// NewRateLimiter builds a RateLimiter allowing rpm+burst requests per key in
// each one-minute window. rpm <= 0 disables rate limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	return &RateLimiter{
		rpm:     rpm,
		burst:   burst,
		entries: make(map[string]*rateLimitEntry),
	}
}

// Enabled reports whether rate limiting is active.
func (r *RateLimiter) Enabled() bool { return r.rpm > 0 }

// Allow reports whether key is within its per-minute budget, admitting it if so.
func (r *RateLimiter) Allow(key string) bool {
	if !r.Enabled() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= time.Minute {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= time.Minute {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.rpm+r.burst
}
