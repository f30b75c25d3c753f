// Package auth authenticates websocket handshakes. It extracts a bearer
// credential from the upgrade request, validates it as a signed JWT, loads
// the identity from the user directory, and refreshes the credential's
// Redis-backed session TTL. No anonymous access: every failure rejects the
// upgrade before any registry entry exists.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims issued by the accounts service.
type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenValidator validates a raw credential and extracts its claims.
type TokenValidator interface {
	Validate(token string) (*Claims, error)
}

// JWTValidator validates HMAC-signed tokens issued by the accounts service.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for tokens signed with the given
// shared secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses and verifies the token, returning its claims. Expired,
// malformed, or wrongly signed tokens all return an error.
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: token invalid")
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("auth: token carries no user id")
	}
	return claims, nil
}
