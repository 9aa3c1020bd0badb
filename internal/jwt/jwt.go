package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

// tokenType 同步核心只接受访问令牌
const tokenType = "access"

// Platform 客户端平台
type Platform string

const (
	PlatformUnknown Platform = "unknown"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// Claims JWT 声明，UserID 为参与者ID
type Claims struct {
	UserID    string   `json:"user_id"`
	DeviceID  string   `json:"device_id"`
	Platform  Platform `json:"platform"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// Service JWT 服务
// 令牌由身份服务签发，这里只做校验；Generate 供运维工具与测试使用
type Service struct {
	secretKey    []byte
	accessExpire time.Duration
}

// NewService 创建 JWT 服务
func NewService(secretKey string, accessExpire time.Duration) *Service {
	return &Service{
		secretKey:    []byte(secretKey),
		accessExpire: accessExpire,
	}
}

// Generate 签发访问令牌
func (s *Service) Generate(userID, deviceID string, platform Platform) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessExpire)
	claims := &Claims{
		UserID:    userID,
		DeviceID:  deviceID,
		Platform:  platform,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "hudhud-identity",
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate 校验访问令牌
func (s *Service) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != tokenType || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
