package ratelimit

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/VenueFox/internal/pkg/cache"
	"github.com/ManuelReschke/VenueFox/internal/pkg/env"
)

// Config controls the API limiter.
type Config struct {
	Max        int
	Expiration time.Duration
	Storage    fiber.Storage
}

// ConfigFromEnv reads RATE_LIMIT_MAX requests per RATE_LIMIT_WINDOW_SECONDS.
func ConfigFromEnv() Config {
	return Config{
		Max:        env.GetEnvInt("RATE_LIMIT_MAX", 120),
		Expiration: time.Duration(env.GetEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
	}
}

// NewStorage returns limiter storage on the cache server, in its own database
// so counters never mix with the ledger or job keys.
func NewStorage() fiber.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		// Prefer password from the underlying client if present
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

// New limits requests per API key, or per client IP for anonymous callers.
// A nil Storage keeps counters in memory.
func New(cfg Config) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 120
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:          cfg.Max,
		Expiration:   cfg.Expiration,
		Storage:      cfg.Storage,
		KeyGenerator: keyFor,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	})
}

func keyFor(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return "key:" + key[:min(len(key), 16)]
	}
	return "ip:" + c.IP()
}
