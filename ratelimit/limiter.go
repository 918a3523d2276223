package ratelimit

import (
	"context"
	"net/http"
	"time"
)

// Result contains the outcome of an admission check.
// It provides the necessary data to populate standard rate-limiting HTTP headers
// and the rejection envelope.
type Result struct {
	// Allowed indicates whether the request is permitted.
	Allowed bool
	// Consumed indicates whether this decision actually took a slot from the
	// counter. It is false for denied requests and for fail-open admissions,
	// where nothing was incremented and so nothing may be refunded.
	Consumed bool
	// Limit is the total number of requests allowed in the current window.
	Limit int64
	// Remaining is the number of requests left in the current window.
	Remaining int64
	// Window is the length of the limiter's time window.
	Window time.Duration
	// ResetAfter is the duration until the current window rolls over. For a
	// denied request this is also the recommended retry delay.
	ResetAfter time.Duration
	// CounterID identifies the exact window counter this decision touched.
	// It is the handle a post-response hook passes back to Refund.
	CounterID string
}

// Limiter decides whether a request identified by a key is admitted.
// It is the primary interface that middleware and the gateway interact with.
type Limiter interface {
	// Allow checks if a request is permitted for a given key.
	Allow(ctx context.Context, key string) (Result, error)
}

// Refunder is implemented by limiters that can return a consumed slot after
// the response is known, supporting the SkipOnSuccess/SkipOnFailure policy
// flags. The refund is best-effort and asynchronous.
type Refunder interface {
	Refund(counterID string)
}

// Store defines the shared counter backend for window-based limiters.
// This abstraction allows for interchangeable backends (in-memory, Redis).
// All methods must be safe for concurrent use.
type Store interface {
	// Count returns the current counter value for a key, 0 if the key
	// does not exist.
	Count(ctx context.Context, key string) (int64, error)

	// Increment atomically increments the counter for a key and refreshes its
	// expiry, as a single batched operation so a counter is never left
	// without a TTL. It returns the value after incrementing.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Decrement decrements the counter for a key. Used only by post-response
	// refunds; a missing key is not an error.
	Decrement(ctx context.Context, key string) error

	// Healthy reports whether the backend is currently reachable. Limiters
	// read it to decide between fail-open and a checked decision; they never
	// mutate it.
	Healthy() bool
}

// Policy is the immutable per-route-class limiter configuration. One Policy
// instance exists per protected route class, created at process start.
type Policy struct {
	// Name tags the route class and prefixes every key the policy produces,
	// keeping buckets of unrelated classes apart.
	Name string
	// Window is the fixed window duration.
	Window time.Duration
	// MaxRequests is the number of admitted requests per key per window.
	MaxRequests int64
	// KeyFunc derives the limiter key from the request. It must be
	// deterministic and collision-free across unrelated callers.
	KeyFunc KeyFunc
	// SkipOnSuccess refunds the consumed slot when the final response status
	// is below 400.
	SkipOnSuccess bool
	// SkipOnFailure refunds the consumed slot when the final response status
	// is 400 or above.
	SkipOnFailure bool
}

// Key builds the policy-scoped limiter key for a request.
func (p Policy) Key(r *http.Request) (string, error) {
	fn := p.KeyFunc
	if fn == nil {
		fn = func(r *http.Request) (string, error) { return r.RemoteAddr, nil }
	}
	key, err := fn(r)
	if err != nil {
		return "", err
	}
	if p.Name == "" {
		return key, nil
	}
	return p.Name + ":" + key, nil
}
