package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdamTech2025/twitter-autobot/internal/store"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// ErrNoCredential means the user never linked a publishing account.
var ErrNoCredential = errors.New("auth: no credential for user")

// CredentialStore handles secure storage of per-user publishing credentials
type CredentialStore struct {
	store  *store.Store
	sealer *Sealer
}

// NewCredentialStore creates a credential store over the ledger database.
// sealer may be nil only for local dry runs.
func NewCredentialStore(st *store.Store, sealer *Sealer) *CredentialStore {
	return &CredentialStore{store: st, sealer: sealer}
}

// Get returns the unsealed credential for a user.
func (cs *CredentialStore) Get(ctx context.Context, userID int64) (types.Credential, error) {
	rec, err := cs.store.LoadCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return types.Credential{}, ErrNoCredential
	}
	if err != nil {
		return types.Credential{}, err
	}

	token, err := cs.sealer.Open(rec.Token)
	if err != nil {
		return types.Credential{}, fmt.Errorf("credential for user %d: %w", userID, err)
	}
	secret, err := cs.sealer.Open(rec.Secret)
	if err != nil {
		return types.Credential{}, fmt.Errorf("credential for user %d: %w", userID, err)
	}

	return types.Credential{
		UserID:   rec.UserID,
		Platform: rec.Platform,
		Token:    token,
		Secret:   secret,
	}, nil
}

// Has reports whether a credential exists without unsealing it.
func (cs *CredentialStore) Has(ctx context.Context, userID int64) (bool, error) {
	_, err := cs.store.LoadCredential(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put seals and persists a credential
func (cs *CredentialStore) Put(ctx context.Context, c types.Credential) error {
	if c.Platform == "" {
		return errors.New("auth: credential needs a platform")
	}
	token, err := cs.sealer.Seal(c.Token)
	if err != nil {
		return err
	}
	secret, err := cs.sealer.Seal(c.Secret)
	if err != nil {
		return err
	}
	return cs.store.SaveCredential(ctx, store.CredentialRecord{
		UserID:   c.UserID,
		Platform: c.Platform,
		Token:    token,
		Secret:   secret,
	})
}
