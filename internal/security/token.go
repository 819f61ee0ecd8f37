package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims are the JWT claims carried by admin session tokens.
type AdminClaims struct {
	AdminID  uint64 `json:"aid"`
	Username string `json:"usr"`
	jwt.RegisteredClaims
}

// SignAdminToken mints an HMAC-signed admin session token.
func SignAdminToken(secret string, adminID uint64, username string, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("security: empty jwt secret")
	}
	now := time.Now().UTC()
	claims := AdminClaims{
		AdminID:  adminID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("security: sign admin token: %w", err)
	}
	return signed, nil
}

// ParseAdminToken validates an admin session token and returns its claims.
func ParseAdminToken(secret, raw string) (*AdminClaims, error) {
	if secret == "" {
		return nil, errors.New("security: empty jwt secret")
	}
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("security: parse admin token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("security: invalid admin token")
	}
	return claims, nil
}
