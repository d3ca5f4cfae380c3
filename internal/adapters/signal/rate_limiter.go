package signal

import (
	"sync"
	"time"

	"github.com/dkeye/podcast/internal/domain"
)

// RateLimiter is a sliding-window limit on inbound signaling messages,
// shared by all connections of the same participant.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[domain.ParticipantID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.ParticipantID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt by p and reports whether it fits the window.
// A non-positive limit disables limiting.
func (rl *RateLimiter) Allow(p domain.ParticipantID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[p]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[p] = fresh
		return false
	}
	rl.history[p] = append(fresh, now)
	return true
}
