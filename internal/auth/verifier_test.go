package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, key string, c jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	verifier := NewVerifier(testKey, clock)
	userID := uuid.New()

	token := signToken(t, testKey, claims{
		Name: "Ada",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
		},
	})

	identity, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, userID, identity.UserID)
	assert.Equal(t, "Ada", identity.Name)
}

func TestVerifyExpiredToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	verifier := NewVerifier(testKey, clock)

	token := signToken(t, testKey, jwt.RegisteredClaims{
		Subject:   uuid.New().String(),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	})

	_, err := verifier.Verify(token)
	require.NoError(t, err)

	// Expiry is judged against the injected clock.
	clock.Advance(2 * time.Hour)
	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMissingExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	verifier := NewVerifier(testKey, clock)

	token := signToken(t, testKey, jwt.RegisteredClaims{
		Subject: uuid.New().String(),
	})

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	clock := clockwork.NewFakeClock()
	verifier := NewVerifier(testKey, clock)

	token := signToken(t, "another-key-another-key-another!", jwt.RegisteredClaims{
		Subject:   uuid.New().String(),
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	})

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsNonUUIDSubject(t *testing.T) {
	clock := clockwork.NewFakeClock()
	verifier := NewVerifier(testKey, clock)

	token := signToken(t, testKey, jwt.RegisteredClaims{
		Subject:   "not-a-uuid",
		ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
	})

	_, err := verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	verifier := NewVerifier(testKey, clockwork.NewFakeClock())

	for _, token := range []string{"", "   ", "not.a.jwt"} {
		_, err := verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}
