package wikidata

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/lily/pkg/redis"
)

// ThrottleKey is the rate limit bucket shared by every replica querying the source.
const ThrottleKey = "wikidata:sparql"

// Limiter is the shared sliding window the client checks before each query.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redis.RateLimitResult, error)
	BlockFor(ctx context.Context, key string, d time.Duration) error
}

// RateLimit is the query budget of the source endpoint. Requests <= 0 disables it.
type RateLimit struct {
	Requests int
	Window   time.Duration
	// RetryAfterFallback blocks the bucket after a 429 without a usable Retry-After header.
	RetryAfterFallback time.Duration
}

func (r RateLimit) enabled() bool {
	return r.Requests > 0 && r.Window > 0
}

// WithRateLimit makes the client spend one unit of the shared budget per query
// and honour Retry-After on 429 responses.
func (c *Client) WithRateLimit(limiter Limiter, limit RateLimit) *Client {
	if limit.RetryAfterFallback <= 0 {
		limit.RetryAfterFallback = 60 * time.Second
	}
	c.limiter = limiter
	c.rateLimit = limit
	return c
}

// admit reports how long to wait when the budget is spent. Limiter failures
// let the query through.
func (c *Client) admit(ctx context.Context) time.Duration {
	if c.limiter == nil {
		return 0
	}
	if !c.rateLimit.enabled() {
		return 0
	}
	res, err := c.limiter.Allow(ctx, ThrottleKey, int64(c.rateLimit.Requests), c.rateLimit.Window)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("source rate limit check failed, querying anyway")
		return 0
	}
	if res.Allowed {
		return 0
	}
	retry := res.RetryIn
	if retry <= 0 {
		retry = time.Second
	}
	return retry
}

// backOff blocks the shared bucket for the Retry-After of a 429 response.
func (c *Client) backOff(ctx context.Context, header http.Header) {
	if c.limiter == nil {
		return
	}
	d, ok := ParseRetryAfter(header.Get("Retry-After"), time.Now())
	if !ok {
		d = c.rateLimit.RetryAfterFallback
	}
	if err := c.limiter.BlockFor(ctx, ThrottleKey, d); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("failed to record source Retry-After")
	}
}

// ParseRetryAfter reads a Retry-After value given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}
