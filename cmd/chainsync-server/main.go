package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/api"
	"github.com/chainsyncstore/chainsync/internal/cache"
	"github.com/chainsyncstore/chainsync/internal/config"
	"github.com/chainsyncstore/chainsync/internal/database"
	"github.com/chainsyncstore/chainsync/internal/limiter"
	"github.com/chainsyncstore/chainsync/internal/logger"
	mw "github.com/chainsyncstore/chainsync/internal/middleware"
	"github.com/chainsyncstore/chainsync/internal/mq"
	"github.com/chainsyncstore/chainsync/internal/repo"
	"github.com/chainsyncstore/chainsync/internal/router"
	"github.com/chainsyncstore/chainsync/internal/service"
)

// initConfigAndLogger 初始化配置和日志器
func initConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %v", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %v", err)
	}

	return cfg, lg, nil
}

// initDatabase 初始化数据库连接并执行迁移
func initDatabase(cfg *config.Config, lg *zap.Logger) (*database.DB, error) {
	db, err := database.New(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// 在 HTTP 服务器启动前执行迁移，保证处理请求时表结构已就绪
	migrationsDir := cfg.Migrations.Dir
	lg.Sugar().Infow("using migrations directory", "path", migrationsDir)

	if err := db.RunMigrations(migrationsDir); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %v", err)
	}

	return db, nil
}

// initCache 初始化缓存实例
func initCache(cfg *config.Config, lg *zap.Logger) cache.Cache {
	if !cfg.Cache.Enabled {
		lg.Sugar().Infow("cache disabled")
		return cache.NewNullCache()
	}

	switch cfg.Cache.Type {
	case "redis":
		redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		redisCache, err := cache.NewRedisCache(redisAddr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			lg.Sugar().Warnw("failed to connect to Redis, falling back to memory cache", "error", err)
			lg.Sugar().Infow("cache enabled", "type", "memory (fallback)", "ttl", cfg.Cache.TTL)
			return cache.NewMemoryCache()
		}
		lg.Sugar().Infow("cache enabled", "type", "redis", "addr", redisAddr, "ttl", cfg.Cache.TTL)
		return redisCache
	case "memory":
		lg.Sugar().Infow("cache enabled", "type", "memory", "ttl", cfg.Cache.TTL)
		return cache.NewMemoryCache()
	default:
		lg.Sugar().Warnw("unknown cache type, using memory cache", "type", cfg.Cache.Type)
		return cache.NewMemoryCache()
	}
}

// initPublisher 初始化库存事件发布器，未启用时使用空实现
func initPublisher(cfg *config.Config, lg *zap.Logger) mq.StockEventPublisher {
	if !cfg.MQ.Enabled {
		lg.Sugar().Infow("event publishing disabled")
		return mq.NewNopPublisher()
	}

	pub, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange, lg)
	if err != nil {
		lg.Sugar().Warnw("failed to connect to message broker, events disabled", "error", err)
		return mq.NewNopPublisher()
	}
	lg.Sugar().Infow("event publishing enabled", "exchange", cfg.MQ.Exchange)
	return pub
}

// initRateLimiter 初始化分配接口限流器，未启用或初始化失败时返回 nil
func initRateLimiter(cfg *config.Config, lg *zap.Logger) limiter.Limiter {
	if !cfg.Limiter.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	tb, err := limiter.NewTokenBucketLimiter(client, &limiter.Config{
		Rate:      cfg.Limiter.Rate,
		Burst:     cfg.Limiter.Burst,
		Window:    cfg.Limiter.Window,
		KeyPrefix: "limiter:allocate",
	})
	if err != nil {
		lg.Sugar().Warnw("failed to initialize rate limiter, limiting disabled", "error", err)
		return nil
	}

	lg.Sugar().Infow("rate limiter enabled",
		"rate", cfg.Limiter.Rate, "burst", cfg.Limiter.Burst, "window", cfg.Limiter.Window)
	return tb
}

// initDependencies 初始化应用依赖（仓储、服务、处理器）
func initDependencies(cfg *config.Config, db *database.DB, cacheInstance cache.Cache,
	events mq.StockEventPublisher, rateLimiter limiter.Limiter, lg *zap.Logger) *router.Dependencies {

	// 依赖注入链：仓储 -> 服务 -> API处理器
	baseBatchRepo := repo.NewBatchRepository(db.DB)
	txScope := repo.NewTxScope(db.DB)

	// 读侧可选缓存装饰器；分配与退货引擎始终通过 TxScope 直达数据库
	var batchRepo repo.BatchRepository
	if cfg.Cache.Enabled {
		batchRepo = repo.NewCachedBatchRepository(baseBatchRepo, cacheInstance, cfg.Cache.TTL)
	} else {
		batchRepo = baseBatchRepo
	}

	jwtService := service.NewJWTService(cfg)
	allocationService := service.NewAllocationService(txScope, events, lg)
	restockService := service.NewRestockService(batchRepo, txScope, events, lg)
	inventoryService := service.NewInventoryService(batchRepo, events, lg)

	return &router.Dependencies{
		BatchHandler:      api.NewBatchHandler(inventoryService, lg),
		AllocationHandler: api.NewAllocationHandler(allocationService, lg),
		RestockHandler:    api.NewRestockHandler(restockService, lg),
		JWTService:        jwtService,
		Cache:             cacheInstance,
		RateLimiter:       rateLimiter,
	}
}

// setupHandler 组装路由和外层中间件链
func setupHandler(cfg *config.Config, deps *router.Dependencies, lg *zap.Logger) http.Handler {
	handler := router.New().Setup(cfg, deps, lg)

	// 请求进入时执行顺序为 access log → timeout → recovery → request ID
	handler = mw.RequestID(handler)
	handler = mw.Recovery(lg)(handler)
	handler = mw.Timeout(cfg.App.RequestTimeout)(handler)
	handler = mw.AccessLog(lg)(handler)

	return handler
}

// startServer 启动服务器并处理优雅关闭
func startServer(cfg *config.Config, handler http.Handler, lg *zap.Logger) {
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	lg.Sugar().Infow("server starting", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	// 启动服务器（异步）
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	select {
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			lg.Sugar().Fatalw("server error", "err", err)
		}
	case <-quit:
		lg.Sugar().Infow("shutdown signal received")
	}

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Sugar().Errorw("server shutdown error", "err", err)
	}
	lg.Sugar().Infow("server exited")
}

// main 为应用入口，协调各个组件的初始化和启动
func main() {
	// 1) 加载配置和初始化日志
	cfg, lg, err := initConfigAndLogger()
	if err != nil {
		log.Fatalf("failed to initialize config and logger: %v", err)
	}

	// 2) 初始化数据库连接并执行迁移
	db, err := initDatabase(cfg, lg)
	if err != nil {
		lg.Sugar().Fatalw("failed to initialize database", "err", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Sugar().Errorw("failed to close database connection", "err", err)
		}
	}()

	// 3) 初始化缓存、事件发布器和限流器
	cacheInstance := initCache(cfg, lg)
	events := initPublisher(cfg, lg)
	defer func() {
		if err := events.Close(); err != nil {
			lg.Sugar().Errorw("failed to close event publisher", "err", err)
		}
	}()
	rateLimiter := initRateLimiter(cfg, lg)

	// 4) 初始化应用依赖（仓储、服务、处理器）
	deps := initDependencies(cfg, db, cacheInstance, events, rateLimiter, lg)

	// 5) 设置路由和中间件
	handler := setupHandler(cfg, deps, lg)

	// 6) 启动 HTTP 服务器
	startServer(cfg, handler, lg)
}
