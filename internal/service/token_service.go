package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenInvalid = errors.New("token không hợp lệ hoặc đã hết hạn")

// TokenService chỉ xác thực danh tính (account id) từ JWT do hệ thống tài khoản cấp.
// Đăng ký/đăng nhập nằm ngoài service này.
type TokenService struct {
	jwtSecret string
	now       func() time.Time
}

func NewTokenService(jwtSecret string) *TokenService {
	return &TokenService{jwtSecret: jwtSecret, now: time.Now}
}

// Issue ký token HS256 cho một account; dùng cho công cụ nội bộ và test.
func (s *TokenService) Issue(accountID string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("lỗi tạo token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken trả account id (claim "sub") nếu token hợp lệ.
func (s *TokenService) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("phương thức ký không mong muốn: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", fmt.Errorf("%w: token có định dạng sai", ErrTokenInvalid)
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", fmt.Errorf("%w: token đã hết hạn", ErrTokenInvalid)
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return "", fmt.Errorf("%w: token chưa hợp lệ", ErrTokenInvalid)
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}
