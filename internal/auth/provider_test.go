package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukepan/splitrooms/internal/apierr"
)

type fakeCredentialStore struct {
	byIdentifier map[string]struct{ userID, hash, nickname string }
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{byIdentifier: make(map[string]struct{ userID, hash, nickname string })}
}

func (s *fakeCredentialStore) UserByCredential(ctx context.Context, identifier string) (string, string, string, error) {
	rec, ok := s.byIdentifier[identifier]
	if !ok {
		return "", "", "", apierr.New(apierr.Unauthenticated, "unknown credential")
	}
	return rec.userID, rec.hash, rec.nickname, nil
}

func (s *fakeCredentialStore) CreateUserWithCredential(ctx context.Context, userID, nickname, avatarURL, identifier, passwordHash string) error {
	s.byIdentifier[identifier] = struct{ userID, hash, nickname string }{userID, passwordHash, nickname}
	return nil
}

func TestDevProvider_RegistersNewIdentifier(t *testing.T) {
	store := newFakeCredentialStore()
	p := NewDevProvider(store)

	userID, displayName, err := p.Exchange(context.Background(), "alice:hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, userID)
	assert.Equal(t, "alice", displayName)
	assert.Contains(t, store.byIdentifier, "alice")
}

func TestDevProvider_VerifiesExistingIdentifier(t *testing.T) {
	store := newFakeCredentialStore()
	p := NewDevProvider(store)

	firstID, _, err := p.Exchange(context.Background(), "bob:correct-horse")
	require.NoError(t, err)

	secondID, _, err := p.Exchange(context.Background(), "bob:correct-horse")
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)
}

func TestDevProvider_RejectsWrongPassword(t *testing.T) {
	store := newFakeCredentialStore()
	p := NewDevProvider(store)

	_, _, err := p.Exchange(context.Background(), "carol:right-password")
	require.NoError(t, err)

	_, _, err = p.Exchange(context.Background(), "carol:wrong-password")
	assert.Equal(t, apierr.Unauthenticated, apierr.KindOf(err))
}

func TestDevProvider_RejectsMalformedCredential(t *testing.T) {
	store := newFakeCredentialStore()
	p := NewDevProvider(store)

	_, _, err := p.Exchange(context.Background(), "no-separator-here")
	assert.Equal(t, apierr.InvalidInput, apierr.KindOf(err))
}
