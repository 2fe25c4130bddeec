package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dukepan/splitrooms/internal/apierr"
)

// CredentialStore is the persistence slice DevProvider needs; satisfied by
// *repository.PostgresRepository.
type CredentialStore interface {
	UserByCredential(ctx context.Context, identifier string) (userID, passwordHash, nickname string, err error)
	CreateUserWithCredential(ctx context.Context, userID, nickname, avatarURL, identifier, passwordHash string) error
}

// Provider exchanges an opaque login credential for a resolved user
// identity. Production deployments are expected to swap this for an
// upstream OAuth/OIDC exchange (the AuthProvider* config fields are there
// for it); DevProvider is the one shipped here.
type Provider interface {
	Exchange(ctx context.Context, credential string) (userID string, displayName string, err error)
}

// DevProvider authenticates against locally stored Argon2id password
// hashes. The credential is an "identifier:password" pair; a login for an
// identifier that doesn't exist yet registers it, so a fresh deployment
// needs no separate signup step.
type DevProvider struct {
	store CredentialStore
}

// NewDevProvider builds a DevProvider over store.
func NewDevProvider(store CredentialStore) *DevProvider {
	return &DevProvider{store: store}
}

// Exchange splits credential into identifier and password; on first use it
// registers a new user with that password, on subsequent uses it verifies
// the password against the stored hash.
func (p *DevProvider) Exchange(ctx context.Context, credential string) (string, string, error) {
	identifier, password, ok := strings.Cut(credential, ":")
	if !ok {
		return "", "", apierr.New(apierr.InvalidInput, "credential must be identifier:password")
	}

	userID, hash, nickname, err := p.store.UserByCredential(ctx, identifier)
	if err == nil {
		if !VerifyPassword(hash, password) {
			return "", "", apierr.New(apierr.Unauthenticated, "wrong password")
		}
		return userID, nickname, nil
	}
	if apierr.KindOf(err) != apierr.Unauthenticated {
		return "", "", fmt.Errorf("lookup credential: %w", err)
	}

	newHash, err := HashPassword(password)
	if err != nil {
		return "", "", fmt.Errorf("hash password: %w", err)
	}
	newID := uuid.NewString()
	if err := p.store.CreateUserWithCredential(ctx, newID, identifier, "", identifier, newHash); err != nil {
		return "", "", err
	}
	return newID, identifier, nil
}
