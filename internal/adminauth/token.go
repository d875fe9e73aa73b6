// Package auth gates the non-loopback HTTP surface (principally GET
// /status) behind a single shared bearer token. There is no per-user
// identity here: every admin who knows the token has the same access, which
// matches the chat-side whitelist model the rest of the system uses.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for a malformed or wrongly-signed token.
var ErrInvalidToken = errors.New("auth: invalid token")

// ErrExpiredToken is returned for a well-formed but expired token.
var ErrExpiredToken = errors.New("auth: expired token")

// claims is the minimal JWT payload: just an issuer and the standard
// expiry/issued-at pair, since there is no per-principal identity to carry.
type claims struct {
	jwt.RegisteredClaims
}

// TokenService mints and validates the bearer token guarding /status.
type TokenService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

// NewTokenService builds a TokenService over a configured signing secret.
// A zero expiration means tokens never expire, suited to a long-lived
// operator token generated once at deploy time.
func NewTokenService(secret string, expiration time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiration: expiration, issuer: "teltubby"}
}

// GenerateToken mints a bearer token for the admin HTTP surface.
func (s *TokenService) GenerateToken() (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   s.issuer,
		},
	}
	if s.expiration != 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiration))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.secret)
}

// ValidateToken checks signature and expiry.
func (s *TokenService) ValidateToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

// RandomSecret generates a URL-safe random signing secret, for operators
// who have not set one explicitly in configuration.
func RandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
