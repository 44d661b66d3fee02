package middleware

import (
	"context"
	"fmt"
	"time"

	"codegrader/internal/common/cache"
	pkgerrors "codegrader/pkg/errors"
	"codegrader/pkg/utils/logger"
	"codegrader/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const rateKeyPrefix = "grader:rate:"

// RateLimiter enforces fixed-window limits using the cache.
type RateLimiter struct {
	cache        cache.BasicOps
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimiter(cacheClient cache.BasicOps, window time.Duration, redisTimeout time.Duration) *RateLimiter {
	if redisTimeout <= 0 {
		redisTimeout = 200 * time.Millisecond
	}
	return &RateLimiter{cache: cacheClient, window: window, redisTimeout: redisTimeout}
}

// Allow counts one hit on key and fails with TooManyRequests once max is exceeded in the window.
func (s *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if s.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = s.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, s.redisTimeout)
	defer cancel()

	acquired, err := s.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !acquired {
		count, err = s.cache.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// A key that lost its TTL would block the client forever.
		if ttl, ttlErr := s.cache.TTL(ctxCache, key); ttlErr == nil && ttl <= 0 {
			_ = s.cache.Expire(ctxCache, key, window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitPolicy bounds requests per client IP and per route within one window.
type RateLimitPolicy struct {
	Window   time.Duration
	IPMax    int
	RouteMax int
}

// RateLimitMiddleware enforces policy on one route. Cache failures let the
// request through so a cache outage never stops grading.
func RateLimitMiddleware(limiter *RateLimiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		check := func(key string, max int) bool {
			err := limiter.Allow(ctx, key, max, policy.Window)
			if err == nil {
				return true
			}
			if pkgerrors.Is(err, pkgerrors.TooManyRequests) {
				response.AbortWithError(c, err)
				return false
			}
			logger.Warn(ctx, "rate limit skipped", zap.String("route", routeKey), zap.Error(err))
			return true
		}
		if policy.IPMax > 0 && !check(fmt.Sprintf("%sip:%s:%s", rateKeyPrefix, c.ClientIP(), routeKey), policy.IPMax) {
			return
		}
		if policy.RouteMax > 0 && !check(fmt.Sprintf("%sroute:%s", rateKeyPrefix, routeKey), policy.RouteMax) {
			return
		}
		c.Next()
	}
}
