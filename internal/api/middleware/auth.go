package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "hudhud.im.sync/internal/errors"
	"hudhud.im.sync/internal/jwt"
	"hudhud.im.sync/pkg/response"
)

const (
	userIDKey   = "user_id"
	deviceIDKey = "device_id"
)

// TokenValidator 访问令牌校验，*jwt.Service 满足该接口
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// JWTAuth JWT 认证中间件
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.Error(c, apperrors.ErrTokenExpired)
			} else {
				response.Error(c, apperrors.ErrTokenInvalid)
			}
			c.Abort()
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(deviceIDKey, claims.DeviceID)
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetUserID 从 context 获取参与者ID
func GetUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// GetDeviceID 从 context 获取设备ID
func GetDeviceID(c *gin.Context) string {
	return c.GetString(deviceIDKey)
}
