package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemory_IncrementCreatesAndCounts(t *testing.T) {
	s := NewMemory(context.Background(), 0)
	ctx := context.Background()

	count, err := s.Count(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)

	for want := int64(1); want <= 3; want++ {
		got, err := s.Increment(ctx, "k", time.Minute)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}

	count, _ = s.Count(ctx, "k")
	assert.Equal(t, int64(3), count)
}

func TestMemory_ExpiredEntryReadsAsZero(t *testing.T) {
	s := NewMemory(context.Background(), 0)
	ctx := context.Background()

	_, err := s.Increment(ctx, "k", 10*time.Millisecond)
	assert.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	count, err := s.Count(ctx, "k")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// An increment after expiry starts a fresh counter.
	got, err := s.Increment(ctx, "k", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestMemory_DecrementIsBounded(t *testing.T) {
	s := NewMemory(context.Background(), 0)
	ctx := context.Background()

	_, _ = s.Increment(ctx, "k", time.Minute)
	assert.NoError(t, s.Decrement(ctx, "k"))

	count, _ := s.Count(ctx, "k")
	assert.Equal(t, int64(0), count)

	// Decrementing a missing key is a no-op, not an error.
	assert.NoError(t, s.Decrement(ctx, "missing"))
}

func TestMemory_ConcurrentIncrementsAreAtomic(t *testing.T) {
	s := NewMemory(context.Background(), 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "k", time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, _ := s.Count(ctx, "k")
	assert.Equal(t, int64(100), count)
}

func TestMemory_CleanupRemovesExpiredEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewMemory(ctx, 10*time.Millisecond)
	_, _ = s.Increment(ctx, "k", time.Millisecond)

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.entries["k"]
		return !ok
	}, time.Second, 10*time.Millisecond)
}
