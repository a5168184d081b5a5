package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"taskcal-go/internal/logging"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

// CredentialRepository persists decrypted credentials.
// storage.CredentialStore is the production implementation.
type CredentialRepository interface {
	Put(ctx context.Context, cred *storage.Credential) error
	Get(ctx context.Context, userID string, p provider.Provider) (*storage.Credential, error)
	Delete(ctx context.Context, userID string, p provider.Provider) error
}

// TokenStore keeps one authoritative credential per caller and provider.
// Every operation acts on the caller identity found in the context.
type TokenStore struct {
	creds  CredentialRepository
	now    func() time.Time
	logger *zap.Logger
}

// NewTokenStore creates a TokenStore backed by creds.
func NewTokenStore(creds CredentialRepository, logger *zap.Logger) *TokenStore {
	return &TokenStore{
		creds:  creds,
		now:    time.Now,
		logger: logger,
	}
}

// Store saves token for the caller, superseding any previous credential for p.
// A token without expiry is stored as already expired.
func (s *TokenStore) Store(ctx context.Context, p provider.Provider, token *oauth2.Token, calendarID string) error {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return err
	}
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%w: access token cannot be empty", storage.ErrInvalidInput)
	}
	if calendarID == "" {
		return fmt.Errorf("%w: calendar ID cannot be empty", storage.ErrInvalidInput)
	}

	cred := &storage.Credential{
		UserID:       userID,
		Provider:     p,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		CalendarID:   calendarID,
		CreatedAt:    s.now(),
	}
	if err := s.creds.Put(ctx, cred); err != nil {
		return fmt.Errorf("failed to store %s tokens: %w", p, err)
	}

	s.logger.Info("stored calendar tokens",
		logging.UserID(userID),
		logging.Provider(p),
		zap.String("access_token", logging.RedactToken(token.AccessToken)),
		zap.Bool("renewable", token.RefreshToken != ""),
		zap.Time("expires_at", token.Expiry),
	)
	return nil
}

// Get returns the caller's credential for p, or storage.ErrNotFound.
func (s *TokenStore) Get(ctx context.Context, p provider.Provider) (*storage.Credential, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.creds.Get(ctx, userID, p)
}

// Delete disconnects p for the caller.
func (s *TokenStore) Delete(ctx context.Context, p provider.Provider) error {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return err
	}
	if err := s.creds.Delete(ctx, userID, p); err != nil {
		return fmt.Errorf("failed to delete %s tokens: %w", p, err)
	}
	s.logger.Info("disconnected calendar", logging.UserID(userID), logging.Provider(p))
	return nil
}

// ConnectionStatus describes a stored credential without its token material.
type ConnectionStatus struct {
	Provider   provider.Provider `json:"provider"`
	Connected  bool              `json:"connected"`
	CalendarID string            `json:"calendar_id,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Expired    bool              `json:"expired"`
	Renewable  bool              `json:"renewable"`
}

// Status reports whether the caller has connected p.
func (s *TokenStore) Status(ctx context.Context, p provider.Provider) (*ConnectionStatus, error) {
	cred, err := s.Get(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		return &ConnectionStatus{Provider: p}, nil
	}
	if err != nil {
		return nil, err
	}

	expiresAt := cred.ExpiresAt
	return &ConnectionStatus{
		Provider:   p,
		Connected:  true,
		CalendarID: cred.CalendarID,
		ExpiresAt:  &expiresAt,
		Expired:    cred.Expired(s.now()),
		Renewable:  cred.RefreshToken != "",
	}, nil
}
