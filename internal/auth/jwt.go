// Package auth verifies bearer tokens and yields the caller's user id.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
)

// Verifier is the identity gate used by REST and realtime sessions.
type Verifier interface {
	Verify(token string) (string, error)
}

type JWTValidator struct {
	method    string
	hsSecret  []byte
	pub       *rsa.PublicKey
	userClaim string
}

func NewJWTValidatorHS256(secret, userClaim string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("hs256 secret is empty")
	}
	return &JWTValidator{method: "HS256", hsSecret: []byte(secret), userClaim: claimName(userClaim)}, nil
}

func NewJWTValidatorRS256(publicKeyPath, userClaim string) (*JWTValidator, error) {
	b, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTValidator{method: "RS256", pub: pub, userClaim: claimName(userClaim)}, nil
}

func claimName(c string) string {
	if c == "" {
		return "user_id"
	}
	return c
}

// Verify validates the token signature and expiry and returns the user id claim.
// "sub" is accepted when the configured claim is absent.
func (v *JWTValidator) Verify(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", apperr.New(apperr.ErrUnauthenticated, "missing token")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if v.method == "RS256" {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return v.pub, nil
		}
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.hsSecret, nil
	}, jwt.WithValidMethods([]string{v.method}))
	if err != nil {
		return "", apperr.Wrap(apperr.ErrUnauthenticated, "invalid token", err)
	}
	if uid, ok := stringClaim(claims, v.userClaim); ok {
		return uid, nil
	}
	if sub, ok := stringClaim(claims, "sub"); ok {
		return sub, nil
	}
	return "", apperr.New(apperr.ErrUnauthenticated, "token has no user id")
}

func stringClaim(claims jwt.MapClaims, key string) (string, bool) {
	s, ok := claims[key].(string)
	return s, ok && s != ""
}

// ParseBearerToken extracts the token from an Authorization header value.
func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", apperr.New(apperr.ErrUnauthenticated, "authorization header empty")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.New(apperr.ErrUnauthenticated, "invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}
