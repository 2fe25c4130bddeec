package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_GenerateAndValidate(t *testing.T) {
	tm, err := NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := tm.Generate("user-123")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
}

func TestTokenManager_RejectsExpiredToken(t *testing.T) {
	// Bypass NewTokenManager's non-positive-ttl clamp to force an
	// already-expired token.
	tm := &TokenManager{secret: []byte("test-secret"), ttl: -time.Minute}

	token, err := tm.Generate("user-123")
	require.NoError(t, err)

	_, err = tm.Validate(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	tm1, err := NewTokenManager("secret-one", time.Hour)
	require.NoError(t, err)
	tm2, err := NewTokenManager("secret-two", time.Hour)
	require.NoError(t, err)

	token, err := tm1.Generate("user-123")
	require.NoError(t, err)

	_, err = tm2.Validate(token)
	assert.Error(t, err)
}

func TestNewTokenManager_RejectsEmptySecret(t *testing.T) {
	_, err := NewTokenManager("", time.Hour)
	assert.Error(t, err)
}

func TestExtractTokenFromHeader(t *testing.T) {
	token, err := ExtractTokenFromHeader("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	_, err = ExtractTokenFromHeader("abc.def.ghi")
	assert.Error(t, err)

	_, err = ExtractTokenFromHeader("")
	assert.Error(t, err)
}
