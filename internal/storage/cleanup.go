package storage

import (
	"context"
	"fmt"
	"time"
)

// CleanupStaleCredentials removes credentials that cannot be renewed and
// expired before the given instant. Such credentials are dead: the user has
// to reconnect the provider anyway.
func (s *SQLiteStorage) CleanupStaleCredentials(ctx context.Context, expiredBefore time.Time) (int64, error) {
	if expiredBefore.IsZero() {
		return 0, fmt.Errorf("%w: cutoff cannot be zero", ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM credentials
		WHERE has_refresh_token = 0 AND expires_at < ?`,
		expiredBefore.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale credentials: %w", err)
	}

	return result.RowsAffected()
}
