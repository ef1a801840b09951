package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/resp"
	"github.com/chainsyncstore/chainsync/internal/service"
)

// AuthMiddleware JWT 认证中间件。
// 验证请求头中的访问令牌，并把操作人注入请求上下文；
// 台账的每条审计记录都从这里取得归属的 user id。
func AuthMiddleware(jwtService service.JWTService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := RequestIDFromContext(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("missing authorization header", zap.String("request_id", reqID))
				resp.Error(w, http.StatusUnauthorized, resp.CodeUnauthorized, "authorization header required", reqID, "")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				logger.Warn("invalid authorization header format", zap.String("request_id", reqID))
				resp.Error(w, http.StatusUnauthorized, resp.CodeUnauthorized, "invalid authorization header format", reqID, "")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
			if tokenString == "" {
				resp.Error(w, http.StatusUnauthorized, resp.CodeUnauthorized, "token required", reqID, "")
				return
			}

			claims, err := jwtService.ValidateAccessToken(tokenString)
			if err != nil {
				logger.Warn("token validation failed",
					zap.String("request_id", reqID),
					zap.Error(err),
				)
				switch err {
				case service.ErrTokenExpired:
					resp.Error(w, http.StatusUnauthorized, resp.CodeUnauthorized, "token expired", reqID, "")
				default:
					resp.Error(w, http.StatusUnauthorized, resp.CodeUnauthorized, "invalid token", reqID, "")
				}
				return
			}

			actor := &Actor{
				UserID:   claims.UserID,
				Username: claims.Username,
				Role:     claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}

// RequireRole 角色授权中间件，要求操作人具有指定角色。
func RequireRole(requiredRole string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := RequestIDFromContext(r.Context())
			actor := ActorFromContext(r.Context())

			if actor == nil {
				logger.Error("actor not found in context", zap.String("request_id", reqID))
				resp.Error(w, http.StatusUnauthorized, resp.CodeUnauthorized, "authentication required", reqID, "")
				return
			}

			if actor.Role != requiredRole {
				logger.Warn("insufficient permissions",
					zap.String("request_id", reqID),
					zap.Int64("user_id", actor.UserID),
					zap.String("user_role", actor.Role),
					zap.String("required_role", requiredRole),
				)
				resp.Error(w, http.StatusForbidden, resp.CodeForbidden, "insufficient permissions", reqID, "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin 管理员权限中间件，RequireRole 的便捷包装。
func RequireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return RequireRole(service.RoleAdmin, logger)
}
