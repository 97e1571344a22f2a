// Package jwt validates bearer tokens issued by the surrounding identity
// service. The engine only consumes the subject and role carried in the
// claims; issuing and refreshing tokens happens elsewhere.
package jwt

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Validation errors.
var (
	ErrInvalidToken = errors.New("invalid token")
)

// Config holds token validation settings.
type Config struct {
	SecretKey string
}

// Claims is the token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validator checks token signatures and expiry.
type Validator struct {
	cfg Config
}

// NewValidator creates a token validator.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateToken parses and verifies a bearer token, returning the subject
// id and role.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (string, domain.Role, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.cfg.SecretKey), nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}

	role := domain.Role(claims.Role)
	if role == "" {
		role = domain.RoleUser
	}

	return claims.Subject, role, nil
}
