package relay

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle keeps one token bucket per user for live sends.
type throttle struct {
	mu       sync.Mutex
	limiters map[int64]*throttleEntry
	limit    rate.Limit
	burst    int
}

type throttleEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// newThrottle returns nil when perSecond is not positive, which disables
// throttling.
func newThrottle(perSecond float64, burst int) *throttle {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &throttle{
		limiters: make(map[int64]*throttleEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (t *throttle) allow(userID int64, now time.Time) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.limiters[userID]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[userID] = entry
	}
	entry.seen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep forgets users idle since before cutoff.
func (t *throttle) sweep(cutoff time.Time) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, entry := range t.limiters {
		if entry.seen.Before(cutoff) {
			delete(t.limiters, id)
			removed++
		}
	}
	return removed
}
