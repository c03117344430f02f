// Package ratelimit implements fixed-window counters keyed by identity or
// connecting address. A fixed window allows short bursts at window
// boundaries; that is an accepted trade-off over a sliding log, since the
// counters here are advisory abuse controls rather than billing.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const cleanupInterval = time.Minute

type window struct {
	start time.Time
	count int
}

// Limiter counts events per key in non-overlapping windows. The zero value
// is not usable; construct with New.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	entries map[string]*window
	now     func() time.Time
}

func New(limit int, period time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if period <= 0 {
		period = time.Minute
	}

	return &Limiter{
		limit:   limit,
		period:  period,
		entries: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records one event for key and reports whether it is within the
// limit for the current window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.entries[key]
	if !ok || now.Sub(w.start) >= l.period {
		l.entries[key] = &window{start: now, count: 1}
		return true
	}

	w.count++
	return w.count <= l.limit
}

// Blocked reports whether key has already exceeded the limit in the current
// window, without recording an event. A key sitting exactly at the limit is
// not blocked yet: the event that exceeds it is still evaluated, rejected
// by Allow, and only then does the gate drop.
func (l *Limiter) Blocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.entries[key]
	if !ok || l.now().Sub(w.start) >= l.period {
		return false
	}
	return w.count > l.limit
}

// Run evicts idle windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, w := range l.entries {
				if now.Sub(w.start) >= l.period {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
