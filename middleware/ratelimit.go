package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deskgate/deskgate/ratelimit"
)

// Admission creates a gin middleware that runs the admission check for one
// policy before any handler work.
//
// On every request it adds the standard X-RateLimit-* headers. A denied
// request is answered with 429 and the structured envelope, and never touches
// the counter (the over-limit request does not consume a slot). Infrastructure
// failures inside the limiter fail open and are invisible to the caller.
//
// When the policy sets SkipOnSuccess or SkipOnFailure and the limiter can
// refund, the middleware runs the rest of the chain first and then invokes
// the refund hook with the final response status. This is an explicit
// post-response hook, not interception of the response writer.
func Admission(limiter ratelimit.Limiter, policy ratelimit.Policy, options ...ratelimit.Option) gin.HandlerFunc {
	cfg := ratelimit.NewConfig(options...)

	return func(c *gin.Context) {
		key, err := policy.Key(c.Request)
		if err != nil {
			cfg.Logger.Errorf("failed to extract key: %v", err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		result, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// Treated like a store outage: admit rather than surface a 5xx.
			cfg.Logger.Errorf("limiter failed for key '%s', failing open: %v", key, err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

		resetTimestamp := time.Now().Add(result.ResetAfter).Unix()
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTimestamp, 10))

		if !result.Allowed {
			cfg.Logger.Debugf(
				"request denied for key '%s'. Remaining: %d, Limit: %d",
				key, result.Remaining, result.Limit,
			)
			if cfg.ErrorHandler != nil {
				cfg.ErrorHandler(c.Writer, c.Request, ratelimit.ErrLimitExceeded, result)
				c.Abort()
				return
			}
			rejectRateLimited(c, result)
			return
		}

		cfg.Logger.Debugf(
			"request allowed for key '%s'. Remaining: %d, Limit: %d",
			key, result.Remaining, result.Limit,
		)

		// Refund only a slot that was actually consumed; a fail-open admission
		// took nothing, and decrementing its counter would push it negative.
		refunder, canRefund := limiter.(ratelimit.Refunder)
		if canRefund && result.Consumed && (policy.SkipOnSuccess || policy.SkipOnFailure) {
			c.Next()

			status := c.Writer.Status()
			if (policy.SkipOnSuccess && status < http.StatusBadRequest) ||
				(policy.SkipOnFailure && status >= http.StatusBadRequest) {
				refunder.Refund(result.CounterID)
			}
			return
		}

		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, result ratelimit.Result) {
	retryAfterSec := int(math.Ceil(result.ResetAfter.Seconds()))
	if retryAfterSec <= 0 {
		retryAfterSec = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfterSec))

	c.AbortWithStatusJSON(http.StatusTooManyRequests, rateLimitEnvelope{
		Error: rateLimitError{
			Code:       "RATE_LIMIT_EXCEEDED",
			Message:    "too many requests, please retry later",
			Limit:      result.Limit,
			WindowMs:   result.Window.Milliseconds(),
			RetryAfter: result.ResetAfter.Milliseconds(),
		},
	})
}
