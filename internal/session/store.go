// Package session maps login sessions to the authenticated user.
//
// Session IDs are opaque bearer values handed to the browser. Stores only
// keep a SHA-256 digest of each ID, so a leaked store cannot be replayed
// as cookies.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrExpired   = errors.New("session expired")
	ErrEmptyUser = errors.New("user ID cannot be empty")
)

// Store defines the interface for session management.
type Store interface {
	// Create opens a session for userID that lasts ttl and returns its ID.
	Create(ctx context.Context, userID string, ttl time.Duration) (string, error)
	// Get resolves a session ID to its user.
	Get(ctx context.Context, sessionID string) (string, error)
	Delete(ctx context.Context, sessionID string) error
	// DeleteExpired purges expired sessions and returns how many were removed.
	DeleteExpired(ctx context.Context) (int, error)
	// Count returns the number of stored sessions, expired or not.
	Count(ctx context.Context) (int, error)
}

// newID returns a fresh session ID and the digest it is stored under.
func newID() (id, key string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate session id: %w", err)
	}
	id = base64.RawURLEncoding.EncodeToString(b)
	return id, keyFor(id), nil
}

func keyFor(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
