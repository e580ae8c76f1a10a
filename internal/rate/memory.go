// Package rate counts requests per key in clock-aligned fixed windows held in
// memory.
package rate

import (
	"sync"
	"time"
)

// Decision is the outcome of one Take.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a denied caller should wait at now.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !now.Before(d.ResetAt) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter admits at most limit hits per key in each window. Every key shares
// the same window boundaries, so counters are dropped together when the
// window rolls over.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	epoch  time.Time
	counts map[string]int
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	return newLimiterAt(limit, window, func() time.Time { return time.Now().UTC() })
}

func newLimiterAt(limit int, window time.Duration, now func() time.Time) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{limit: limit, window: window, now: now, counts: map[string]int{}}
}

func (l *Limiter) Limit() int { return l.limit }

// Take records one hit for key unless the key is already at its limit.
func (l *Limiter) Take(key string) Decision {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if start := now.Truncate(l.window); !start.Equal(l.epoch) {
		l.epoch = start
		clear(l.counts)
	}
	reset := l.epoch.Add(l.window)
	used := l.counts[key]
	if used >= l.limit {
		return Decision{ResetAt: reset}
	}
	l.counts[key] = used + 1
	return Decision{Allowed: true, Remaining: l.limit - used - 1, ResetAt: reset}
}

// Len is the number of keys counted in the current window.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
