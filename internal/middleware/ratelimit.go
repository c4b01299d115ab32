// Package middleware holds the HTTP middleware chain and the process logger.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"chapterhub/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what a limiter does when Redis cannot be reached.
type FailPolicy int

const (
	// FailOpen lets the request through.
	FailOpen FailPolicy = iota
	// FailClosed answers 503.
	FailClosed
)

var errNoLimiterStore = errors.New("rate limiter has no redis client")

// limiterExempt reports whether the environment skips rate limiting.
// An unset APP_ENV counts as development.
func limiterExempt() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// Window is the outcome of one counted request.
type Window struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// CheckRateLimit counts one request against rl:<resource>:<id> in a fixed window.
// The counter and its expiry are set in a single transaction so a key never
// outlives its window.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, id string, limit int, window time.Duration) (Window, error) {
	if limiterExempt() {
		return Window{Allowed: true, Remaining: limit, ResetIn: window}, nil
	}
	if rdb == nil {
		return Window{}, errNoLimiterStore
	}

	key := "rl:" + resource + ":" + id
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		RedisErrors("rate_limit")
		return Window{}, err
	}

	count := int(incr.Val())
	reset := ttl.Val()
	if reset <= 0 {
		reset = window
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Window{Allowed: count <= limit, Remaining: remaining, ResetIn: reset}, nil
}

// RateLimit allows limit requests per window for each caller, failing open.
// Authenticated callers are keyed by user ID and anonymous ones by IP. The
// optional name groups routes under one counter; it defaults to the route path.
func RateLimit(rdb *redis.Client, limit int, window time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, window, FailOpen, name...)
}

// RateLimitWithPolicy is RateLimit with an explicit FailPolicy.
func RateLimitWithPolicy(rdb *redis.Client, limit int, window time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		caller := "ip:" + c.IP()
		if uid, ok := c.Locals("userID").(uint); ok {
			caller = "user:" + strconv.FormatUint(uint64(uid), 10)
		}
		resource := c.Route().Path
		if len(name) > 0 {
			resource = name[0]
		}

		w, err := CheckRateLimit(ctx, rdb, resource, caller, limit, window)
		if err != nil {
			Logger.WarnContext(ctx, "rate limiter unavailable",
				slog.String("resource", resource),
				slog.Bool("fail_closed", policy == FailClosed),
				slog.String("error", err.Error()),
			)
			if policy == FailClosed {
				return c.Status(fiber.StatusServiceUnavailable).JSON(models.Envelope{
					Success: false,
					Message: "rate limit unavailable",
				})
			}
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(w.Remaining))
		if !w.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(w.ResetIn.Round(time.Second).Seconds())))
			return models.RespondWithError(c, fiber.StatusTooManyRequests,
				fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded"))
		}
		return c.Next()
	}
}
