package interceptors

import (
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 30 * time.Minute
	limiterMaxClients = 10000
)

// RateLimiter keeps one token bucket per client IP. Idle buckets expire; beyond
// limiterMaxClients the least recently used bucket is dropped.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *ttlcache.Cache[string, *rate.Limiter]
}

// NewRateLimiter allows perMinute requests per client IP, with bursts of up to perMinute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rl := &RateLimiter{
		limit: rate.Every(time.Minute / time.Duration(perMinute)),
		burst: perMinute,
		buckets: ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](limiterIdleTTL),
			ttlcache.WithCapacity[string, *rate.Limiter](limiterMaxClients),
		),
	}
	go rl.buckets.Start()
	return rl
}

// Allow reports whether one more request from ip fits its bucket.
func (rl *RateLimiter) Allow(ip string) bool {
	item, _ := rl.buckets.GetOrSet(ip, rate.NewLimiter(rl.limit, rl.burst))
	return item.Value().Allow()
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.RealIP()) {
				c.Response().Header().Set("Retry-After", "60")
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}
			return next(c)
		}
	}
}

// Stop ends the expiry loop.
func (rl *RateLimiter) Stop() {
	rl.buckets.Stop()
}
