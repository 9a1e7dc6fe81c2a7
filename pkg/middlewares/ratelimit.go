package middlewares

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/utils/ratelimit"
)

// RateLimitMiddleware 按客户端 IP 的固定窗口限流.
// limiter 为 nil 时不限流 (未启用 Redis).
func RateLimitMiddleware(limiter ratelimit.Limiter, rule ratelimit.Rule, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		key := "ip:" + c.ClientIP()
		allowed, err := limiter.Allow(c.Request.Context(), key, rule)
		if err != nil {
			logger.Error("rate limit check failed",
				zap.String("rule", rule.Name),
				zap.String("key", key),
				zap.Error(err),
			)
			abort(c, http.StatusServiceUnavailable, "rate limit check failed")
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(rule.Window.Seconds())))
			abort(c, http.StatusTooManyRequests, "too many requests", "rate limit exceeded for "+rule.Name)
			return
		}
		c.Next()
	}
}

// MaxConcurrencyMiddleware 最大并发控制中间件
// 限制同时处理的请求数量，防止 Goroutine 数量无限增长导致 OOM
func MaxConcurrencyMiddleware(maxConcurrent int) gin.HandlerFunc {
	if maxConcurrent <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	sem := make(chan struct{}, maxConcurrent)

	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			abort(c, http.StatusServiceUnavailable, "too many concurrent requests")
		}
	}
}

// abort 与 handlers.Response 相同的信封
func abort(c *gin.Context, status int, message string, errs ...string) {
	if errs == nil {
		errs = []string{}
	}
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": message,
		"data":    nil,
		"errors":  errs,
	})
}
