package middleware

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/cache"
	"github.com/chainsyncstore/chainsync/internal/resp"
)

// IdempotencyKeyHeader 客户端提供的幂等键请求头。
const IdempotencyKeyHeader = "X-Idempotency-Key"

// Idempotency 幂等中间件。
// 对携带幂等键的变更请求，用 SetNX 抢占键；重复提交直接返回冲突，
// 避免销售/退货请求因网络重试被执行两次。
func Idempotency(c cache.Cache, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				// 未提供幂等键时不做拦截
				next.ServeHTTP(w, r)
				return
			}

			reqID := RequestIDFromContext(r.Context())
			cacheKey := fmt.Sprintf("idem:%s:%s:%s", r.Method, r.URL.Path, key)

			ok, err := c.SetNX(r.Context(), cacheKey, reqID, ttl)
			if err != nil {
				// 缓存故障时放行，宁可重复校验也不阻断业务
				logger.Warn("idempotency check failed",
					zap.String("request_id", reqID),
					zap.String("key", key),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				logger.Info("duplicate request rejected",
					zap.String("request_id", reqID),
					zap.String("key", key),
				)
				resp.Error(w, http.StatusConflict, resp.CodeConflict, "duplicate request", reqID, "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
