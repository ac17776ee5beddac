package utils

import (
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestNewRecordingID(t *testing.T) {
	a, b := NewRecordingID(), NewRecordingID()
	assert.True(t, strings.HasPrefix(a, "rec_"))
	assert.NotEqual(t, a, b)
}

func TestResolveUserID(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		id, err := ResolveUserID(" alice ", signedToken(t, jwt.MapClaims{"sub": "bob"}))
		require.NoError(t, err)
		assert.Equal(t, "alice", id)
	})

	t.Run("token subject", func(t *testing.T) {
		id, err := ResolveUserID("", signedToken(t, jwt.MapClaims{"sub": "bob"}))
		require.NoError(t, err)
		assert.Equal(t, "bob", id)
	})

	t.Run("random when nothing configured", func(t *testing.T) {
		id, err := ResolveUserID("", "")
		require.NoError(t, err)
		_, parseErr := uuid.Parse(id)
		assert.NoError(t, parseErr)
	})

	t.Run("token without subject", func(t *testing.T) {
		_, err := ResolveUserID("", signedToken(t, jwt.MapClaims{"name": "x"}))
		assert.Error(t, err)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := ResolveUserID("", "not-a-token")
		assert.Error(t, err)
	})
}
