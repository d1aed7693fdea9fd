package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/redis/go-redis/v9"
)

const creditRateLimitPrefix = "rewards:rl:credit:"

// CreditRateLimit caps point credits per member phone or ledger account per minute. Counters
// live in Redis when a cache is configured and in process memory otherwise.
func CreditRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 30
	}
	if cache == nil {
		return limiter.New(limiter.Config{
			Max:          maxPerMin,
			Expiration:   time.Minute,
			KeyGenerator: creditKey,
			LimitReached: func(c *fiber.Ctx) error {
				return tooManyCredits(c)
			},
		})
	}
	return func(c *fiber.Ctx) error {
		key := creditRateLimitPrefix + creditKey(c)
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("credit rate limit unavailable", slog.String("key", key), slog.Any("error", err))
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return tooManyCredits(c)
		}
		return c.Next()
	}
}

func creditKey(c *fiber.Ctx) string {
	if phone := strings.TrimSpace(c.Params("phone")); phone != "" {
		return "phone:" + phone
	}
	if account := strings.TrimSpace(c.Params("accountId")); account != "" {
		return "account:" + account
	}
	return "ip:" + c.IP()
}

func tooManyCredits(c *fiber.Ctx) error {
	return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{
		"success": false,
		"message": "too many credit requests, try again later",
	})
}
