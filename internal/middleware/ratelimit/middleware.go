package ratelimit

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/finsync/api/responses"
)

// KeyFunc picks the budget a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientKey charges the authenticated subject when there is one, otherwise
// the client IP.
func ClientKey(c *gin.Context) string {
	if sub := c.GetString("subject"); sub != "" {
		return "sub:" + sub
	}
	return "ip:" + c.ClientIP()
}

// Middleware rejects requests over budget with 429. Limiter errors let the
// request through.
func Middleware(l Limiter, keyFn KeyFunc, logger *zap.Logger) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = ClientKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := keyFn(c)
		d, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining()))
		if !d.Allowed {
			logger.Info("admin request throttled",
				zap.String("key", key),
				zap.String("path", c.FullPath()),
				zap.Duration("retry_after", d.RetryAfter))
			responses.TooManyRequests(c, "admin request budget exhausted", int(math.Ceil(d.RetryAfter.Seconds())))
			return
		}
		c.Next()
	}
}
