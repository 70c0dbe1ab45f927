package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken covers bad signatures, expired tokens and malformed claims.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked means the token predates the user's last logout.
	ErrTokenRevoked = errors.New("token version invalidated")
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

// Claims carried by access and refresh tokens. Version must match the user's token version.
type Claims struct {
	Role    string `json:"role,omitempty"`
	Version int    `json:"ver"`
	Use     string `json:"use"`
	jwt.RegisteredClaims
}

func signHS256(claims Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func parseHS256(token string, secret []byte, use string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(5*time.Second), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.Use != use {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
