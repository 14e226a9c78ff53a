// Package auth verifies externally issued identity tokens presented at
// session handshake. The core only validates tokens; issuance lives in an
// external identity service.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var ErrInvalidToken = errors.New("invalid identity token")

// Identity is the authenticated principal extracted from a verified token.
type Identity struct {
	UserID uuid.UUID
	Name   string
}

type claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 identity tokens against a shared signing key.
type Verifier struct {
	key   []byte
	clock clockwork.Clock
}

func NewVerifier(signingKey string, clock clockwork.Clock) *Verifier {
	return &Verifier{key: []byte(signingKey), clock: clock}
}

// Verify parses and validates the token, returning the authenticated
// identity. Any parse, signature, or expiry failure maps to ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithTimeFunc(v.clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	return &Identity{UserID: userID, Name: c.Name}, nil
}
