package store

import (
	"context"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func redisTest(t *testing.T) (*RedisStore, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	s := NewRedis(client)
	require.NoError(t, s.Ping(ctx))

	cleanup := func() {
		_ = s.Close()
		_ = container.Terminate(ctx)
	}
	return s, cleanup
}

func TestRedis_IncrementSetsCounterAndTTL(t *testing.T) {
	s, cleanup := redisTest(t)
	defer cleanup()

	ctx := context.Background()

	count, err := s.Count(ctx, "gw:test:1")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), count)

	got, err := s.Increment(ctx, "gw:test:1", 2*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), got)

	ttl := s.client.TTL(ctx, "gw:test:1").Val()
	assert.Greater(t, ttl, time.Duration(0), "counter must never exist without a TTL")
	assert.LessOrEqual(t, ttl, 2*time.Second)

	count, err = s.Count(ctx, "gw:test:1")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedis_CounterExpires(t *testing.T) {
	s, cleanup := redisTest(t)
	defer cleanup()

	ctx := context.Background()
	_, err := s.Increment(ctx, "gw:test:exp", time.Second)
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		count, err := s.Count(ctx, "gw:test:exp")
		return err == nil && count == 0
	}, 3*time.Second, 100*time.Millisecond)
}

func TestRedis_ConcurrentIncrementsAreAtomic(t *testing.T) {
	s, cleanup := redisTest(t)
	defer cleanup()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "gw:test:conc", time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := s.Count(ctx, "gw:test:conc")
	assert.NoError(t, err)
	assert.Equal(t, int64(50), count)
}

func TestRedis_DecrementRefundsASlot(t *testing.T) {
	s, cleanup := redisTest(t)
	defer cleanup()

	ctx := context.Background()
	_, _ = s.Increment(ctx, "gw:test:refund", time.Minute)
	_, _ = s.Increment(ctx, "gw:test:refund", time.Minute)

	assert.NoError(t, s.Decrement(ctx, "gw:test:refund"))

	count, err := s.Count(ctx, "gw:test:refund")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedis_HealthTracksOutcomes(t *testing.T) {
	s, cleanup := redisTest(t)
	defer cleanup()

	ctx := context.Background()
	assert.True(t, s.Healthy())

	// A missing key is a normal outcome, not a connectivity failure.
	_, err := s.Count(ctx, "gw:test:absent")
	assert.NoError(t, err)
	assert.True(t, s.Healthy())
}
