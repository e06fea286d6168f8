// internal/auth/verifier.go
// Bearer credential verification

package auth

import (
	"errors"
	"time"

	"github.com/servicelink/marketplace-backend/internal/common/utils"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid or expired credential")
)

// Identity is the resolved identity behind a verified credential
type Identity struct {
	UserID   int64
	Username string
}

// Verifier resolves an opaque bearer credential to a user identity.
// Verification failure is a typed result, never a panic; no state is
// retained between calls.
type Verifier interface {
	Verify(credential string) (*Identity, error)
}

// JWTVerifier validates HMAC-signed access tokens
type JWTVerifier struct {
	secret string
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token signature, expiry and token type, and returns
// the embedded identity.
func (v *JWTVerifier) Verify(credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	claims, err := utils.ValidateJWT(credential, v.secret)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	if claims.Type != "access" {
		return nil, ErrInvalidCredential
	}

	// jwt.Parse already rejects expired tokens, but tokens without an exp
	// claim pass through it; treat those as invalid too.
	if claims.ExpiresAt == 0 || time.Unix(claims.ExpiresAt, 0).Before(time.Now()) {
		return nil, ErrInvalidCredential
	}

	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
	}, nil
}
