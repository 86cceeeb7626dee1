package middleware

import (
	"math"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/ehr/triage/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// MaxClients bounds the number of tracked clients; the least recently
	// seen are evicted first.
	MaxClients int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		MaxClients:        10000,
	}
}

type limiterStore struct {
	cache *lru.Cache
	cfg   RateLimitConfig
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	size := cfg.MaxClients
	if size <= 0 {
		size = DefaultRateLimitConfig().MaxClients
	}
	cache, err := lru.New(size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &limiterStore{cache: cache, cfg: cfg}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	if v, ok := s.cache.Get(key); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)
	if prev, ok, _ := s.cache.PeekOrAdd(key, l); ok {
		return prev.(*rate.Limiter)
	}
	return l
}

// RateLimit limits requests per authenticated user, falling back to client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			r := store.get(key).Reserve()
			if !r.OK() {
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			if delay := r.Delay(); delay > 0 {
				r.Cancel()
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
