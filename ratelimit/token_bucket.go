package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter implements the "Token Bucket" algorithm with one
// in-process bucket per key. It allows bursts up to 'burst' while sustaining
// a steady rate of requests per second.
//
// It is a drop-in replacement for FixedWindowLimiter behind the Limiter
// interface for single-node deployments that prefer smoother admission over
// a shared distributed counter. Idle buckets are evicted by a janitor
// goroutine.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry

	rate  rate.Limit
	burst int

	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucket creates a limiter based on the Token Bucket algorithm.
// - ratePerSec: the number of tokens added to each bucket per second.
//   A zero rate grants no tokens at all and denies every request.
// - burst: the maximum capacity of a bucket.
func NewTokenBucket(ratePerSec float64, burst int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets:      make(map[string]*bucketEntry),
		rate:         rate.Limit(ratePerSec),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
}

// Allow checks if a token can be taken from the bucket for the given key.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (Result, error) {
	lim := l.bucket(key)

	allowed := lim.Allow()
	remaining := int64(math.Floor(lim.Tokens()))
	if remaining < 0 {
		remaining = 0
	}

	var resetAfter time.Duration
	if !allowed && l.rate > 0 {
		// With a zero replenishment rate there is no meaningful retry time.
		resetAfter = time.Duration(float64(time.Second) / float64(l.rate))
	}

	return Result{
		Allowed:    allowed,
		Consumed:   allowed,
		Limit:      int64(l.burst),
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}, nil
}

func (l *TokenBucketLimiter) bucket(key string) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.buckets[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(l.rate, l.burst)
	l.buckets[key] = &bucketEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup removes buckets not seen for longer than the idle TTL.
func (l *TokenBucketLimiter) Cleanup() {
	cutoff := time.Now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, ent := range l.buckets {
		if ent.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

// StartJanitor starts a goroutine that evicts idle buckets periodically.
// Stop it by cancelling the context.
func (l *TokenBucketLimiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}
