package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestTokenRoundTrip(t *testing.T) {
	tok, err := GenerateToken(42, secret, time.Hour)
	require.NoError(t, err)

	id, err := ParseToken(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestParseTokenRejects(t *testing.T) {
	expired, err := GenerateToken(42, secret, -time.Minute)
	require.NoError(t, err)

	wrongKey, err := GenerateToken(42, []byte("other"), time.Hour)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 42,
	}).SignedString(secret)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"user_id": 42,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong key", wrongKey},
		{"missing user_id", noUser},
		{"missing exp", noExp},
		{"other algorithm", hs512},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
