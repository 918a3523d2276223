package store

import (
	"context"
	"sync"
	"time"

	"github.com/deskgate/deskgate/ratelimit"
)

// entry stores the counter and expiration time for one window key.
type entry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of ratelimit.Store.
//
// It is suitable for single-instance deployments and tests. An optional
// background cleanup goroutine removes expired entries.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
}

var _ ratelimit.Store = (*MemoryStore)(nil)

// NewMemory creates a new MemoryStore instance.
//
// ctx manages the lifecycle of the background cleanup goroutine.
// cleanupInterval is how often expired entries are removed; pass 0 to
// disable cleanup.
func NewMemory(ctx context.Context, cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{entries: make(map[string]entry)}

	if cleanupInterval > 0 {
		go s.runCleanup(ctx, cleanupInterval)
	}

	return s
}

// Count returns the current counter value for a key, 0 if absent or expired.
func (s *MemoryStore) Count(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return 0, nil
	}
	return e.count, nil
}

// Increment atomically increases the counter for a key and refreshes its
// expiry, returning the new value.
func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || now.After(e.expiresAt) {
		e = entry{count: 0}
	}
	e.count++
	e.expiresAt = now.Add(ttl)
	s.entries[key] = e
	return e.count, nil
}

// Decrement decreases the counter for a key. A missing or expired key is a
// no-op.
func (s *MemoryStore) Decrement(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil
	}
	e.count--
	s.entries[key] = e
	return nil
}

// Healthy always reports true: the in-memory store cannot lose connectivity.
func (s *MemoryStore) Healthy() bool { return true }

func (s *MemoryStore) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for key, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}
