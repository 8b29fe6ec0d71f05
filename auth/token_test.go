package auth

import (
	"testing"
	"time"

	"chat-core/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_Roundtrip(t *testing.T) {
	req := require.New(t)
	authenticator := NewAuthenticator("test-secret")
	userID := uuid.NewString()

	token, err := authenticator.GenerateToken(userID, "Alice", []string{"user"}, time.Hour)
	req.NoError(err)

	claims, err := authenticator.ValidateToken(token)
	req.NoError(err)
	req.Equal(userID, claims.UserID)
	req.Equal("Alice", claims.Name)
	req.Equal([]string{"user"}, claims.Roles)
}

func TestAuthenticator_Rejects_Expired_Tokens(t *testing.T) {
	req := require.New(t)
	authenticator := NewAuthenticator("test-secret")

	token, err := authenticator.GenerateToken(uuid.NewString(), "Alice", nil, -time.Minute)
	req.NoError(err)

	_, err = authenticator.ValidateToken(token)
	req.ErrorIs(err, errors.ErrAuthentication)
}

func TestAuthenticator_Rejects_A_Foreign_Secret(t *testing.T) {
	req := require.New(t)
	issuer := NewAuthenticator("their-secret")
	verifier := NewAuthenticator("our-secret")

	token, err := issuer.GenerateToken(uuid.NewString(), "Mallory", nil, time.Hour)
	req.NoError(err)

	_, err = verifier.ValidateToken(token)
	req.ErrorIs(err, errors.ErrAuthentication)
}

func TestAuthenticator_Rejects_Garbage(t *testing.T) {
	req := require.New(t)
	authenticator := NewAuthenticator("test-secret")

	_, err := authenticator.ValidateToken("not-a-token")
	req.ErrorIs(err, errors.ErrAuthentication)

	_, err = authenticator.ValidateToken("")
	req.ErrorIs(err, errors.ErrAuthentication)
}
