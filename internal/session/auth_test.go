package session

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	auth := NewAuthenticator([]byte("secret"), "recruit")
	token, err := auth.Issue("user-1", time.Minute)
	require.NoError(t, err)

	userID, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestAuthenticateRejects(t *testing.T) {
	auth := NewAuthenticator([]byte("secret"), "")

	_, err := auth.Authenticate("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = auth.Authenticate("not-a-jwt")
	assert.Error(t, err)

	other, err := NewAuthenticator([]byte("other"), "").Issue("user-1", time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate(other)
	assert.Error(t, err)

	expired, err := auth.Issue("user-1", -time.Minute)
	require.NoError(t, err)
	_, err = auth.Authenticate(expired)
	assert.Error(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = auth.Authenticate(noSubject)
	assert.Error(t, err)
}

func TestAuthenticateIssuerMismatch(t *testing.T) {
	token, err := NewAuthenticator([]byte("secret"), "someone-else").Issue("user-1", time.Minute)
	require.NoError(t, err)

	_, err = NewAuthenticator([]byte("secret"), "recruit").Authenticate(token)
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	assert.Equal(t, "query-token", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", TokenFromRequest(req))
}

func TestSessionRoomCache(t *testing.T) {
	s := New("conn-1", "user-1")

	_, ok := s.Conversation("recruitment:app-1")
	assert.False(t, ok)

	s.Remember("recruitment:app-1", "c1")
	s.Remember("conversation:c1", "c1")
	s.Remember("conversation:c2", "c2")

	id, ok := s.Conversation("recruitment:app-1")
	assert.True(t, ok)
	assert.Equal(t, "c1", id)
	assert.ElementsMatch(t, []string{"recruitment:app-1", "conversation:c1"}, s.RoomsFor("c1"))
	assert.Empty(t, s.RoomsFor("c3"))
}
