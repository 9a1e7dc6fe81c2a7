package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/internal/handlers"
	"github.com/Gopher0727/Warden/internal/services"
	"github.com/Gopher0727/Warden/middleware/jwt"
)

// Authenticator 校验访问令牌, 由 TokenService 实现
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*jwt.Claims, error)
}

// bearerToken 先取 Authorization 头, 没有时取 ?token= (主要用于 WebSocket)
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

func setClaims(c *gin.Context, claims *jwt.Claims) {
	c.Set("user_id", claims.UserID)
	c.Set("username", claims.UserName)
	c.Set("email", claims.Email)
	c.Set("roles", claims.Roles)
	c.Set("claims", claims)
}

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(auth Authenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			handlers.Fail(c, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			logger.Debug("token rejected", zap.String("ip", c.ClientIP()), zap.Error(err))
			message := "invalid token"
			if errors.Is(err, services.ErrExpired) {
				message = "token has expired"
			}
			handlers.Fail(c, http.StatusUnauthorized, message)
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth 有令牌时解析身份, 无令牌按匿名处理; 无效令牌仍然拒绝
func OptionalAuth(auth Authenticator, logger *zap.Logger) gin.HandlerFunc {
	required := AuthMiddleware(auth, logger)
	return func(c *gin.Context) {
		if bearerToken(c) == "" && c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		required(c)
	}
}

// RequireRole 必须在 AuthMiddleware 之后使用
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get("claims")
		claims, _ := v.(*jwt.Claims)
		if !exists || claims == nil {
			handlers.Fail(c, http.StatusUnauthorized, "authentication required")
			return
		}
		if !claims.HasRole(role) {
			handlers.Fail(c, http.StatusForbidden, "forbidden")
			return
		}
		c.Next()
	}
}
