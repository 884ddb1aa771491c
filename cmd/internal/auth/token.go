// Package auth maps bearer credentials to user identities.
//
// The broker never mints tokens for real users; it only verifies them. The JWT
// implementation here is the process-local verifier; deployments that delegate
// to an external identity service swap in their own TokenVerifier.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAnonymous is returned when no credential is presented at all.
	ErrAnonymous = errors.New("auth: no credential")
	// ErrInvalidToken covers malformed, expired and badly signed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Identity is the stable identity resolved once per connection.
// It is immutable for the connection's lifetime.
type Identity struct {
	UserID   string
	Username string
	Language string
}

// TokenVerifier resolves a bearer credential to an Identity.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Claims is the JWT claim set carried by AuraChat access tokens.
type Claims struct {
	Username string `json:"username"`
	Language string `json:"preferred_language,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 access tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier constructs a verifier. The secret must be at least 32 bytes;
// shorter HMAC keys are rejected at startup rather than at first login.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: jwt secret too short (min 32 bytes)")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify parses and validates the token, returning the embedded identity.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Identity{}, ErrAnonymous
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID:   claims.Subject,
		Username: claims.Username,
		Language: claims.Language,
	}, nil
}

// Issue signs an access token for the given identity. Used by the dev login
// seam and by tests; production token issuance lives outside the broker.
func (v *JWTVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return "", errors.New("auth: empty user id")
	}
	now := time.Now()
	claims := &Claims{
		Username: id.Username,
		Language: id.Language,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    "aurachat",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
