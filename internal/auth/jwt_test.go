package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
)

func signHS(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerifyHS256(t *testing.T) {
	v, err := NewJWTValidatorHS256("secret", "")
	require.NoError(t, err)

	tok := signHS(t, "secret", jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	uid, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
}

func TestVerifyFallsBackToSub(t *testing.T) {
	v, _ := NewJWTValidatorHS256("secret", "uid")
	uid, err := v.Verify(signHS(t, "secret", jwt.MapClaims{"sub": "u2"}))
	require.NoError(t, err)
	assert.Equal(t, "u2", uid)
}

func TestVerifyRejects(t *testing.T) {
	v, _ := NewJWTValidatorHS256("secret", "")

	cases := map[string]string{
		"empty":      "",
		"garbage":    "not-a-jwt",
		"wrong key":  signHS(t, "other", jwt.MapClaims{"user_id": "u1"}),
		"expired":    signHS(t, "secret", jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no user id": signHS(t, "secret", jwt.MapClaims{"role": "admin"}),
	}
	for name, tok := range cases {
		_, err := v.Verify(tok)
		assert.ErrorIs(t, err, apperr.ErrUnauthenticated, name)
	}
}

func TestVerifyRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := NewJWTValidatorRS256(path, "")
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"user_id": "r1"}).SignedString(key)
	require.NoError(t, err)
	uid, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "r1", uid)

	// an HS token must not pass an RS validator
	_, err = v.Verify(signHS(t, "secret", jwt.MapClaims{"user_id": "r1"}))
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestParseBearerToken(t *testing.T) {
	tok, err := ParseBearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = ParseBearerToken("bearer  abc ")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "abc", "Basic abc", "Bearer "} {
		_, err := ParseBearerToken(h)
		assert.ErrorIs(t, err, apperr.ErrUnauthenticated, h)
	}
}
