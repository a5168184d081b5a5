package storage

import (
	"context"
	"fmt"
	"time"
)

// Stats summarises one user's tasks and calendar connections.
type Stats struct {
	Total       int64     `json:"total"`
	Completed   int64     `json:"completed"`
	Pending     int64     `json:"pending"`
	Overdue     int64     `json:"overdue"`
	SyncedTasks struct {
		Google  int64 `json:"google"`
		Outlook int64 `json:"outlook"`
	} `json:"synced_tasks"`
	ConnectedCalendars []string  `json:"connected_calendars"`
	CollectedAt        time.Time `json:"collected_at"`
}

// GetStats collects task and connection counts for userID as of now.
func (s *SQLiteStorage) GetStats(ctx context.Context, userID string, now time.Time) (*Stats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID cannot be empty", ErrInvalidInput)
	}

	stats := &Stats{CollectedAt: now, ConnectedCalendars: []string{}}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN completed = 1 THEN 1 END),
			COUNT(CASE WHEN completed = 0 AND due_date IS NOT NULL AND due_date < ? THEN 1 END),
			COUNT(CASE WHEN google_event_id != '' THEN 1 END),
			COUNT(CASE WHEN outlook_event_id != '' THEN 1 END)
		FROM tasks
		WHERE user_id = ?
	`, now.UnixMilli(), userID).Scan(
		&stats.Total,
		&stats.Completed,
		&stats.Overdue,
		&stats.SyncedTasks.Google,
		&stats.SyncedTasks.Outlook,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get task stats: %w", err)
	}
	stats.Pending = stats.Total - stats.Completed

	rows, err := s.db.QueryContext(ctx,
		`SELECT provider FROM credentials WHERE user_id = ? ORDER BY provider`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connected calendars: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		stats.ConnectedCalendars = append(stats.ConnectedCalendars, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate providers: %w", err)
	}

	return stats, nil
}

// CountCredentials returns the number of stored credentials per provider.
func (s *SQLiteStorage) CountCredentials(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, COUNT(*) FROM credentials GROUP BY provider`)
	if err != nil {
		return nil, fmt.Errorf("failed to count credentials: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			p string
			n int64
		)
		if err := rows.Scan(&p, &n); err != nil {
			return nil, fmt.Errorf("failed to scan credential count: %w", err)
		}
		counts[p] = n
	}
	return counts, rows.Err()
}
