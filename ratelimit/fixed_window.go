package ratelimit

import (
	"context"
	"math"
	"strconv"
	"time"
)

// refundTimeout bounds the background decrement issued by Refund.
const refundTimeout = 2 * time.Second

// FixedWindowLimiter implements the "Fixed Window" rate-limiting algorithm on
// a shared counter store. Time is bucketed into non-overlapping windows
// indexed by floor(now/window); each key gets one counter per window.
//
// The algorithm is simple and memory-efficient but can admit bursts at the
// edges of a window: requests racing across a window boundary may overshoot
// the limit by at most the number of requests in flight. This is an accepted
// tradeoff of the fixed window scheme, taken deliberately over a cross-request
// lock that would serialize unrelated callers.
//
// Failure semantics are fail-open: any store error (including the store being
// unreachable or not configured at all) yields an admit decision, never a
// denial. An outage of the counter store must not become an outage of the
// whole API.
type FixedWindowLimiter struct {
	store  Store
	limit  int64
	window time.Duration
	logger Logger

	// now is swappable for window-boundary tests.
	now func() time.Time
}

// NewFixedWindow creates a limiter based on the Fixed Window algorithm.
// A nil store disables enforcement entirely: every request is admitted
// (the fail-open path for deployments without a configured backend).
func NewFixedWindow(store Store, limit int64, window time.Duration, logger Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = &noopLogger{}
	}
	return &FixedWindowLimiter{
		store:  store,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Allow checks whether the request count for the key is within the limit of
// the current window.
//
// A denied request does not consume a slot: the counter is read first and
// only incremented when under the limit. Otherwise a client retrying at
// exactly the limit could stay locked out after the window rolls over while
// a slow attacker starved it. The read-then-increment sequence tolerates a
// bounded benign race at the window boundary (see the type comment).
//
// The returned error is always nil for this limiter; store failures are
// converted to admit decisions and logged at warning level. Such fail-open
// admissions leave Result.Consumed unset: no slot was taken, so none may be
// refunded later.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	windowMs := l.window.Milliseconds()

	windowIndex := nowMs / windowMs
	counterID := key + ":" + strconv.FormatInt(windowIndex, 10)
	resetAfter := time.Duration(windowMs-nowMs%windowMs) * time.Millisecond

	res := Result{
		Limit:      l.limit,
		Window:     l.window,
		ResetAfter: resetAfter,
		CounterID:  counterID,
	}

	if l.store == nil {
		res.Allowed = true
		res.Remaining = l.limit
		return res, nil
	}
	if !l.store.Healthy() {
		l.logger.Warnf("counter store unhealthy, admitting key '%s' without check", key)
		res.Allowed = true
		res.Remaining = l.limit
		return res, nil
	}

	count, err := l.store.Count(ctx, counterID)
	if err != nil {
		l.logger.Warnf("counter read failed for '%s', failing open: %v", counterID, err)
		res.Allowed = true
		res.Remaining = l.limit
		return res, nil
	}

	if count >= l.limit {
		res.Allowed = false
		res.Remaining = 0
		return res, nil
	}

	ttl := time.Duration(math.Ceil(l.window.Seconds())) * time.Second
	newCount, err := l.store.Increment(ctx, counterID, ttl)
	if err != nil {
		l.logger.Warnf("counter increment failed for '%s', failing open: %v", counterID, err)
		res.Allowed = true
		res.Remaining = maxInt64(0, l.limit-count-1)
		return res, nil
	}

	res.Allowed = true
	res.Consumed = true
	res.Remaining = maxInt64(0, l.limit-newCount)
	return res, nil
}

// Refund asynchronously returns a previously consumed slot for the given
// window counter. It backs the SkipOnSuccess/SkipOnFailure policy flags and
// is strictly best-effort: a failed decrement is logged, not retried, and
// never blocks the caller.
func (l *FixedWindowLimiter) Refund(counterID string) {
	if l.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refundTimeout)
		defer cancel()
		if err := l.store.Decrement(ctx, counterID); err != nil {
			l.logger.Warnf("refund failed for counter '%s': %v", counterID, err)
		}
	}()
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
