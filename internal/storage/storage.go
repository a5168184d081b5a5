package storage

import (
	"context"
	"errors"
	"time"

	"taskcal-go/internal/provider"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("concurrent modification")
)

// CredentialRow is the persisted form of a credential. Token material is
// sealed in EncryptedSecret; the remaining columns are stored in clear so
// they can be queried.
type CredentialRow struct {
	UserID          string
	Provider        provider.Provider
	EncryptedSecret []byte
	Nonce           []byte
	HasRefreshToken bool
	ExpiresAt       int64 // epoch milliseconds
	CalendarID      string
	CreatedAt       int64 // epoch milliseconds
}

// Storage defines the low-level database operations required by the
// higher-level CredentialStore.
type Storage interface {
	UpsertCredential(ctx context.Context, row *CredentialRow) error
	GetCredential(ctx context.Context, userID string, p provider.Provider) (*CredentialRow, error)
	DeleteCredential(ctx context.Context, userID string, p provider.Provider) error
	ListRenewableCredentials(ctx context.Context, expiringBefore time.Time) ([]*CredentialRow, error)
}
