package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"parking_reservation/internal/service"
)

const (
	AuthorizationHeaderKey  = "Authorization"
	AuthorizationTypeBearer = "Bearer"
	AccountIDKey            = "accountID"
)

type AuthMiddleware struct {
	tokenService *service.TokenService
}

func NewAuthMiddleware(tokenService *service.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokenService: tokenService}
}

// Authenticate là middleware bắt buộc phải có JWT hợp lệ
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeaderKey)
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Thiếu authorization header"})
			return
		}
		accountID, err := m.accountFromHeader(authHeader)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token không hợp lệ hoặc đã hết hạn", "details": err.Error()})
			return
		}
		c.Set(AccountIDKey, accountID)
		c.Next()
	}
}

// OptionalAuth gắn account id nếu có token hợp lệ; không có token thì request là ẩn danh (kiosk).
// Token có mà sai vẫn bị từ chối.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeaderKey)
		if authHeader == "" {
			c.Next()
			return
		}
		accountID, err := m.accountFromHeader(authHeader)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token không hợp lệ hoặc đã hết hạn", "details": err.Error()})
			return
		}
		c.Set(AccountIDKey, accountID)
		c.Next()
	}
}

func (m *AuthMiddleware) accountFromHeader(authHeader string) (string, error) {
	fields := strings.Fields(authHeader)
	if len(fields) < 2 || !strings.EqualFold(fields[0], AuthorizationTypeBearer) {
		return "", service.ErrTokenInvalid
	}
	return m.tokenService.ValidateToken(fields[1])
}

// AccountID trả account id đã xác thực, "" nếu request ẩn danh.
func AccountID(c *gin.Context) string {
	return c.GetString(AccountIDKey)
}
