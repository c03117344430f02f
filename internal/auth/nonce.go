package auth

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Minute

// NonceStore remembers consumed presence proofs, keyed by
// (public key, timestamp), for the configured window. A record stays
// visible for replay detection for at least the full window and is removed
// afterwards to bound memory.
type NonceStore struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func NewNonceStore(window time.Duration) *NonceStore {
	return &NonceStore{
		window:  window,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Insert records the proof key and reports whether it was unseen. A false
// return means the identical proof was already consumed within the window.
func (s *NonceStore) Insert(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if seen, ok := s.entries[key]; ok && now.Sub(seen) < s.window {
		return false
	}

	s.entries[key] = now
	return true
}

// Len reports the number of live records, expired entries included until
// the next sweep.
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *NonceStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, seen := range s.entries {
		if now.Sub(seen) >= s.window {
			delete(s.entries, key)
		}
	}
}

// Run sweeps expired records until ctx is done.
func (s *NonceStore) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}
