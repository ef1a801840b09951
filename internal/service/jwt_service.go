package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chainsyncstore/chainsync/internal/config"
)

// JWT 相关错误定义
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// 角色约定。用户体系由外部系统维护，这里只消费令牌里的声明。
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// Claims 定义访问令牌载荷。台账的每条审计记录都需要操作人，
// UserID 即审计归属的来源。
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService 定义访问令牌的签发与校验接口。
type JWTService interface {
	GenerateAccessToken(userID int64, username, role string) (string, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
}

// jwtService 是 JWTService 接口的实现（HMAC-SHA256）。
type jwtService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewJWTService 创建 JWT 服务实例。
func NewJWTService(cfg *config.Config) JWTService {
	return &jwtService{
		secret: []byte(cfg.JWT.Secret),
		issuer: cfg.JWT.Issuer,
		ttl:    cfg.JWT.AccessTokenTTL,
	}
}

// GenerateAccessToken 为用户签发访问令牌。
func (s *jwtService) GenerateAccessToken(userID int64, username, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken 校验令牌并返回载荷。
func (s *jwtService) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
