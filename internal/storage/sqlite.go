package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taskcal-go/internal/provider"
)

// SQLiteStorage handles all database operations
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage wraps an open database. path is the DSN the database was
// opened with; the migration tool opens its own connection from it.
func NewSQLiteStorage(db *sql.DB, path string) *SQLiteStorage {
	return &SQLiteStorage{db: db, path: path}
}

// DB exposes the underlying connection pool.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// validateCredentialRow checks if the credential row is valid
func validateCredentialRow(row *CredentialRow) error {
	if row == nil {
		return fmt.Errorf("%w: credential cannot be nil", ErrInvalidInput)
	}
	if row.UserID == "" {
		return fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}
	if _, err := provider.Parse(string(row.Provider)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(row.EncryptedSecret) == 0 {
		return fmt.Errorf("%w: secret cannot be empty", ErrInvalidInput)
	}
	if len(row.Nonce) == 0 {
		return fmt.Errorf("%w: nonce cannot be empty", ErrInvalidInput)
	}
	if row.CalendarID == "" {
		return fmt.Errorf("%w: calendar ID cannot be empty", ErrInvalidInput)
	}
	return nil
}

// UpsertCredential stores the single authoritative credential for a
// (user, provider) pair, replacing any previous one.
func (s *SQLiteStorage) UpsertCredential(ctx context.Context, row *CredentialRow) error {
	if err := validateCredentialRow(row); err != nil {
		return err
	}

	query := `
		INSERT INTO credentials (
			user_id, provider, encrypted_secret, nonce,
			has_refresh_token, expires_at, calendar_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			encrypted_secret = excluded.encrypted_secret,
			nonce = excluded.nonce,
			has_refresh_token = excluded.has_refresh_token,
			expires_at = excluded.expires_at,
			calendar_id = excluded.calendar_id,
			created_at = excluded.created_at
	`
	_, err := s.db.ExecContext(ctx, query,
		row.UserID, string(row.Provider), row.EncryptedSecret, row.Nonce,
		row.HasRefreshToken, row.ExpiresAt, row.CalendarID, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// GetCredential retrieves the credential for a user and provider
func (s *SQLiteStorage) GetCredential(ctx context.Context, userID string, p provider.Provider) (*CredentialRow, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, provider, encrypted_secret, nonce,
			has_refresh_token, expires_at, calendar_id, created_at
		FROM credentials
		WHERE user_id = ? AND provider = ?`,
		userID, string(p))

	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no %s credential for user %s", ErrNotFound, p, userID)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

// DeleteCredential removes a credential. Deleting an absent credential is not an error.
func (s *SQLiteStorage) DeleteCredential(ctx context.Context, userID string, p provider.Provider) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE user_id = ? AND provider = ?`,
		userID, string(p))
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// ListRenewableCredentials returns credentials that carry a refresh token and
// expire before the given instant.
func (s *SQLiteStorage) ListRenewableCredentials(ctx context.Context, expiringBefore time.Time) ([]*CredentialRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, provider, encrypted_secret, nonce,
			has_refresh_token, expires_at, calendar_id, created_at
		FROM credentials
		WHERE has_refresh_token = 1 AND expires_at < ?
		ORDER BY expires_at ASC`,
		expiringBefore.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*CredentialRow
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credentials: %w", err)
	}
	return creds, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(sc scanner) (*CredentialRow, error) {
	var row CredentialRow
	var p string
	if err := sc.Scan(
		&row.UserID, &p, &row.EncryptedSecret, &row.Nonce,
		&row.HasRefreshToken, &row.ExpiresAt, &row.CalendarID, &row.CreatedAt,
	); err != nil {
		return nil, err
	}
	row.Provider = provider.Provider(p)
	return &row, nil
}
