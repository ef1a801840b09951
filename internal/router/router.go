// Package router 提供 HTTP 路由设置和中间件配置功能
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/api"
	"github.com/chainsyncstore/chainsync/internal/cache"
	"github.com/chainsyncstore/chainsync/internal/config"
	"github.com/chainsyncstore/chainsync/internal/limiter"
	"github.com/chainsyncstore/chainsync/internal/middleware"
	"github.com/chainsyncstore/chainsync/internal/service"
)

// Dependencies 包含路由设置所需的所有依赖
type Dependencies struct {
	BatchHandler      *api.BatchHandler
	AllocationHandler *api.AllocationHandler
	RestockHandler    *api.RestockHandler
	JWTService        service.JWTService
	Cache             cache.Cache
	RateLimiter       limiter.Limiter // 可为 nil，表示不启用限流
}

// Router 路由器接口
type Router interface {
	Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler
}

// GinRouter Gin路由器实现
type GinRouter struct {
	engine *gin.Engine
	deps   *Dependencies
	logger *zap.Logger
}

// New 创建新的路由器实例
func New() Router {
	return &GinRouter{}
}

// Setup 设置路由和中间件
func (r *GinRouter) Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler {
	// 根据环境设置 Gin 模式
	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r.engine = gin.New()
	r.deps = deps
	r.logger = lg

	r.setupMiddleware(cfg)
	r.setupRoutes(cfg)

	return r.engine
}

// setupMiddleware 设置全局中间件
func (r *GinRouter) setupMiddleware(cfg *config.Config) {
	// 恢复中间件（从 panic 中恢复）
	r.engine.Use(gin.Recovery())

	// CORS 中间件
	r.engine.Use(r.corsMiddleware())
}

// setupRoutes 设置所有路由
func (r *GinRouter) setupRoutes(cfg *config.Config) {
	// 健康检查
	r.engine.GET("/healthz", r.healthCheck(cfg))

	// API v1 路由组，所有台账接口都要求认证
	v1 := r.engine.Group("/api/v1")
	v1.Use(r.adapt(middleware.AuthMiddleware(r.deps.JWTService, r.logger)))
	{
		// 库存线查询
		stores := v1.Group("/stores")
		{
			stores.GET("/:store_id/products/:product_id/batches", r.wrapHandler(r.deps.BatchHandler.GetInventoryLine))
			stores.GET("/:store_id/products/:product_id/stock-level", r.wrapHandler(r.deps.BatchHandler.CheckStockLevel))
		}

		// 批次查询
		batches := v1.Group("/batches")
		{
			batches.GET("/:id/history", r.wrapHandler(r.deps.BatchHandler.GetBatchHistory))
		}

		// 库存变更
		stock := v1.Group("/stock")
		stock.Use(r.adapt(middleware.Idempotency(r.deps.Cache, cfg.Cache.TTL, r.logger)))
		{
			allocate := stock.Group("/allocate")
			if r.deps.RateLimiter != nil {
				allocate.Use(limiter.AllocationRateLimitMiddleware(r.deps.RateLimiter))
			}
			allocate.POST("", r.wrapHandler(r.deps.AllocationHandler.AllocateForSale))

			stock.POST("/return", r.wrapHandler(r.deps.RestockHandler.ReturnStock))
		}

		// 管理员路由（批次维护与人工调整）
		admin := v1.Group("/admin")
		admin.Use(r.adapt(middleware.RequireAdmin(r.logger)))
		{
			admin.POST("/batches", r.wrapHandler(r.deps.BatchHandler.CreateBatch))

			adminStock := admin.Group("/stock")
			adminStock.Use(r.adapt(middleware.Idempotency(r.deps.Cache, cfg.Cache.TTL, r.logger)))
			{
				adminStock.POST("/adjust", r.wrapHandler(r.deps.RestockHandler.AdjustBatch))
			}
		}
	}
}

// healthCheck 健康检查处理器
func (r *GinRouter) healthCheck(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": cfg.App.Version,
		})
	}
}

// wrapHandler 将标准的 http.HandlerFunc 包装为 gin.HandlerFunc
func (r *GinRouter) wrapHandler(handler func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return gin.WrapF(handler)
}

// adapt 把标准库风格的中间件桥接到 Gin 的处理链上。
// 内层未被调用说明中间件已经写出了响应，此时中止后续处理器。
func (r *GinRouter) adapt(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		mw(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			passed = true
			c.Request = req
		})).ServeHTTP(c.Writer, c.Request)

		if !passed {
			c.Abort()
			return
		}
		c.Next()
	}
}

// corsMiddleware CORS 中间件
func (r *GinRouter) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Idempotency-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
