// Package store provides counter-store backends for the admission controller.
//
// Currently supported backends:
//   - RedisStore: Redis-based store for distributed deployments
//   - MemoryStore: in-memory store for single-instance deployments and tests
//
// Stores implement the ratelimit.Store interface, providing atomic
// increment-with-expiry as a single batched operation.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deskgate/deskgate/ratelimit"
)

// RedisStore implements ratelimit.Store on a Redis client. It is suitable for
// distributed systems where multiple gateway instances share limiter state.
//
// Increment issues INCR and EXPIRE inside one MULTI/EXEC transaction so a
// counter can never be created without a TTL, which would leak keys in Redis.
//
// The store owns its connectivity health: every call outcome feeds a health
// flag that limiters query via Healthy to decide between a checked decision
// and fail-open. Limiters never mutate it. After a failure the flag stays
// false only until the recheck interval elapses; Healthy then reports true
// again so the next real call can probe the connection, and its outcome
// either restores health or re-latches the failure. Without this half-open
// window a single transient error would disable enforcement for the life of
// the process, since limiters skip the store entirely while it is unhealthy.
type RedisStore struct {
	client *redis.Client

	healthy     atomic.Bool
	lastFailure atomic.Int64 // unix nanos of the most recent failed call
	recheck     time.Duration
}

// healthRecheckInterval is how long the store reports unhealthy after a
// failed call before letting traffic probe the connection again.
const healthRecheckInterval = 3 * time.Second

var _ ratelimit.Store = (*RedisStore)(nil)

// NewRedis creates a new RedisStore around an existing client.
// The store starts optimistic (healthy) and adjusts from call outcomes;
// use Ping for an eager connectivity probe at startup.
func NewRedis(client *redis.Client) *RedisStore {
	s := &RedisStore{client: client, recheck: healthRecheckInterval}
	s.healthy.Store(true)
	return s
}

// Ping probes the connection and records the outcome in the health state.
func (s *RedisStore) Ping(ctx context.Context) error {
	err := s.client.Ping(ctx).Err()
	s.observe(err)
	if err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Count returns the current counter value, 0 if the key does not exist.
func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		s.observe(nil)
		return 0, nil
	}
	s.observe(err)
	if err != nil {
		return 0, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

// Increment atomically increments the counter and refreshes its expiry in a
// single transaction, returning the value after incrementing.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	counter := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	s.observe(err)
	if err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", key, err)
	}
	return counter.Val(), nil
}

// Decrement decrements the counter. Used only for best-effort refunds.
func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	err := s.client.Decr(ctx, key).Err()
	s.observe(err)
	if err != nil {
		return fmt.Errorf("redis decr %q: %w", key, err)
	}
	return nil
}

// Healthy reports whether the last Redis interaction succeeded. Once the
// recheck interval has passed since the last failure it reports true again,
// letting the next call re-probe the connection.
func (s *RedisStore) Healthy() bool {
	if s.healthy.Load() {
		return true
	}
	return time.Since(time.Unix(0, s.lastFailure.Load())) >= s.recheck
}

// observe feeds a call outcome into the health state. redis.Nil is a normal
// outcome, not a connectivity failure.
func (s *RedisStore) observe(err error) {
	ok := err == nil || errors.Is(err, redis.Nil)
	if !ok {
		s.lastFailure.Store(time.Now().UnixNano())
	}
	s.healthy.Store(ok)
}
