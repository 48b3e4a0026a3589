package app

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/Dialtone/internal/domain"
)

// RateLimiter is a sliding-window limiter keyed by identity.
type RateLimiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	history  map[domain.IdentityName][]time.Time
	limit    int
	interval time.Duration
	swept    time.Time
}

func NewRateLimiter(limit int, interval time.Duration, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		clock:    clk,
		history:  make(map[domain.IdentityName][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow records an attempt and reports whether it fits in the window.
// A non-positive limit disables limiting.
func (rl *RateLimiter) Allow(id domain.IdentityName) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	rl.sweep(now, windowStart)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	rl.history[id] = append(fresh, now)
	return true
}

// sweep drops identities with no attempt inside the window, at most once per
// interval. Caller must hold mu.
func (rl *RateLimiter) sweep(now, windowStart time.Time) {
	if now.Sub(rl.swept) < rl.interval {
		return
	}
	rl.swept = now
	for id, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, id)
		}
	}
}
