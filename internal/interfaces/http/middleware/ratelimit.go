// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pustakam-api/internal/interfaces/http/dto"
	apperrors "pustakam-api/pkg/errors"
	"pustakam-api/pkg/logger"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// Enabled 是否启用限流
	Enabled bool
	// RequestsPerMinute 每个调用方每分钟请求数
	RequestsPerMinute int
	// KeyPrefix 限流 Key 前缀
	KeyPrefix string
}

// RateLimiter 滑动窗口限流器
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit 按调用方（用户或客户端 IP）限流
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 120
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ratelimit:http"
	}

	return func(c *gin.Context) {
		caller := c.GetString("user_id")
		if caller == "" {
			caller = c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), cfg.KeyPrefix+":"+caller, cfg.RequestsPerMinute, time.Minute)
		if err != nil {
			// 限流器故障时放行
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", "60")
			c.Abort()
			dto.ErrorWithDetail(c, http.StatusTooManyRequests, apperrors.ErrTooManyRequests.Message,
				&dto.ErrorDetail{ErrorCode: string(apperrors.CodeTooManyRequests)})
			return
		}
		c.Next()
	}
}
