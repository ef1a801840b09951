// Package limiter 限流中间件实现
package limiter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainsyncstore/chainsync/internal/middleware"
	"github.com/chainsyncstore/chainsync/internal/resp"
)

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	// 限流器
	Limiter Limiter

	// Key生成函数
	KeyGenerator func(*gin.Context) string

	// 错误处理函数
	ErrorHandler func(*gin.Context, error)

	// 限流回调函数
	OnLimitReached func(*gin.Context, *LimitResult)

	// 是否跳过限流检查
	Skip func(*gin.Context) bool
}

// DefaultKeyGenerator 默认Key生成器（基于IP）
func DefaultKeyGenerator(c *gin.Context) string {
	return fmt.Sprintf("global:%s", c.ClientIP())
}

// ActorKeyGenerator 操作人Key生成器，未认证请求退回到IP维度
func ActorKeyGenerator(c *gin.Context) string {
	if actor := middleware.ActorFromContext(c.Request.Context()); actor != nil {
		return fmt.Sprintf("user:%d", actor.UserID)
	}
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// RateLimitMiddleware 创建限流中间件
func RateLimitMiddleware(config *MiddlewareConfig) gin.HandlerFunc {
	if config.KeyGenerator == nil {
		config.KeyGenerator = DefaultKeyGenerator
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = defaultErrorHandler
	}
	if config.OnLimitReached == nil {
		config.OnLimitReached = defaultOnLimitReached
	}

	return func(c *gin.Context) {
		if config.Skip != nil && config.Skip(c) {
			c.Next()
			return
		}

		key := config.KeyGenerator(c)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		result, err := config.Limiter.Allow(ctx, key)
		if err != nil {
			config.ErrorHandler(c, err)
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			config.OnLimitReached(c, result)
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders 设置限流相关的响应头
func setRateLimitHeaders(c *gin.Context, result *LimitResult) {
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	if result.RetryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(result.RetryAfter.Seconds()), 10))
	}
}

// defaultErrorHandler 限流服务异常时放行请求；限流是保护措施，不能反过来阻断台账操作
func defaultErrorHandler(c *gin.Context, err error) {
	c.Next()
}

// defaultOnLimitReached 默认限流回调
func defaultOnLimitReached(c *gin.Context, result *LimitResult) {
	reqID := middleware.RequestIDFromContext(c.Request.Context())
	resp.Error(c.Writer, http.StatusTooManyRequests, resp.CodeInvalidParam,
		"too many requests, please retry later", reqID, "")
	c.Abort()
}

// AllocationRateLimitMiddleware 销售分配接口的限流中间件，按操作人维度限流
func AllocationRateLimitMiddleware(l Limiter) gin.HandlerFunc {
	return RateLimitMiddleware(&MiddlewareConfig{
		Limiter: l,
		KeyGenerator: func(c *gin.Context) string {
			if actor := middleware.ActorFromContext(c.Request.Context()); actor != nil {
				return fmt.Sprintf("allocate:user:%d", actor.UserID)
			}
			return fmt.Sprintf("allocate:ip:%s", c.ClientIP())
		},
	})
}

// GlobalRateLimitMiddleware 全局限流中间件
func GlobalRateLimitMiddleware(l Limiter) gin.HandlerFunc {
	return RateLimitMiddleware(&MiddlewareConfig{
		Limiter:      l,
		KeyGenerator: DefaultKeyGenerator,
	})
}
