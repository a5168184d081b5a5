package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskcal-go/internal/provider"
)

// Credential is a decrypted OAuth credential for one user and provider.
type Credential struct {
	UserID       string
	Provider     provider.Provider
	AccessToken  string
	RefreshToken string // empty when the provider did not issue one
	ExpiresAt    time.Time
	CalendarID   string
	CreatedAt    time.Time
}

// Expired reports whether the access token must be treated as invalid at now.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// secret is the sealed part of a credential row.
type secret struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// CredentialStore handles the logic for storing and retrieving credentials,
// including encryption and decryption of token material.
type CredentialStore struct {
	db     Storage
	sealer *Sealer
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(db Storage, key []byte) (*CredentialStore, error) {
	sealer, err := NewSealer(key)
	if err != nil {
		return nil, err
	}
	return &CredentialStore{db: db, sealer: sealer}, nil
}

func associatedData(userID string, p provider.Provider) []byte {
	return []byte(userID + "/" + string(p))
}

// Put encrypts and upserts a credential.
func (cs *CredentialStore) Put(ctx context.Context, cred *Credential) error {
	if cred == nil {
		return errors.New("credential cannot be nil")
	}
	if cred.AccessToken == "" {
		return fmt.Errorf("%w: access token cannot be empty", ErrInvalidInput)
	}

	plaintext, err := json.Marshal(secret{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	sealed, nonce, err := cs.sealer.Seal(plaintext, associatedData(cred.UserID, cred.Provider))
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	return cs.db.UpsertCredential(ctx, &CredentialRow{
		UserID:          cred.UserID,
		Provider:        cred.Provider,
		EncryptedSecret: sealed,
		Nonce:           nonce,
		HasRefreshToken: cred.RefreshToken != "",
		ExpiresAt:       cred.ExpiresAt.UnixMilli(),
		CalendarID:      cred.CalendarID,
		CreatedAt:       cred.CreatedAt.UnixMilli(),
	})
}

// Get retrieves and decrypts the credential for a user and provider.
// A missing credential yields ErrNotFound.
func (cs *CredentialStore) Get(ctx context.Context, userID string, p provider.Provider) (*Credential, error) {
	row, err := cs.db.GetCredential(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	return cs.decrypt(row)
}

// Delete removes the credential for a user and provider.
func (cs *CredentialStore) Delete(ctx context.Context, userID string, p provider.Provider) error {
	return cs.db.DeleteCredential(ctx, userID, p)
}

// ListRenewable returns decrypted credentials that can be refreshed and
// expire before the given instant.
func (cs *CredentialStore) ListRenewable(ctx context.Context, expiringBefore time.Time) ([]*Credential, error) {
	rows, err := cs.db.ListRenewableCredentials(ctx, expiringBefore)
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(rows))
	for _, row := range rows {
		cred, err := cs.decrypt(row)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func (cs *CredentialStore) decrypt(row *CredentialRow) (*Credential, error) {
	plaintext, err := cs.sealer.Open(row.EncryptedSecret, row.Nonce, associatedData(row.UserID, row.Provider))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	var s secret
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}

	return &Credential{
		UserID:       row.UserID,
		Provider:     row.Provider,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    time.UnixMilli(row.ExpiresAt),
		CalendarID:   row.CalendarID,
		CreatedAt:    time.UnixMilli(row.CreatedAt),
	}, nil
}
