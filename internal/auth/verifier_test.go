package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicelink/marketplace-backend/internal/common/utils"
)

const testSecret = "unit-test-secret"

func issueToken(t *testing.T, tokenType string, expiresAt time.Time) string {
	t.Helper()

	now := time.Now()
	token, err := utils.GenerateJWT(&utils.JWTClaims{
		UserID:    42,
		Username:  "provider42",
		Type:      tokenType,
		ExpiresAt: expiresAt.Unix(),
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
	}, testSecret)
	require.NoError(t, err)
	return token
}

func TestVerifyValidToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token := issueToken(t, "access", time.Now().Add(time.Hour))

	identity, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), identity.UserID)
	assert.Equal(t, "provider42", identity.Username)
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token := issueToken(t, "access", time.Now().Add(-time.Hour))

	identity, err := v.Verify(token)
	assert.Nil(t, identity)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyRefreshTokenRejected(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	token := issueToken(t, "refresh", time.Now().Add(time.Hour))

	_, err := v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyMalformedToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	for _, credential := range []string{"not-a-token", "a.b.c", "Bearer xyz"} {
		_, err := v.Verify(credential)
		assert.ErrorIs(t, err, ErrInvalidCredential, credential)
	}
}

func TestVerifyMissingCredential(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestVerifyWrongSecret(t *testing.T) {
	v := NewJWTVerifier("a-different-secret")

	token := issueToken(t, "access", time.Now().Add(time.Hour))

	_, err := v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
