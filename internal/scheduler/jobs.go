package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taskcal-go/internal/auth"
	"taskcal-go/internal/metrics"
	"taskcal-go/internal/provider"
)

// Built-in job names.
const (
	JobTokenRefresh = "token_refresh"
	JobCleanup      = "cleanup"
)

// TokenRefresher refreshes credentials that are about to expire.
type TokenRefresher interface {
	RefreshExpiring(ctx context.Context) (auth.RefreshResult, error)
}

// TokenRefreshJob returns a job that proactively refreshes expiring access
// tokens. Failures for individual users do not fail the job.
func TokenRefreshJob(refresher TokenRefresher) JobFunc {
	return func(ctx context.Context) error {
		if _, err := refresher.RefreshExpiring(ctx); err != nil {
			return fmt.Errorf("token refresh pass: %w", err)
		}
		return nil
	}
}

// CredentialJanitor prunes dead credentials and counts live ones.
type CredentialJanitor interface {
	CleanupStaleCredentials(ctx context.Context, expiredBefore time.Time) (int64, error)
	CountCredentials(ctx context.Context) (map[string]int64, error)
}

// SessionJanitor prunes expired login sessions.
type SessionJanitor interface {
	DeleteExpired(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}

// CleanupJob returns a job that removes credentials which expired more
// than retention ago and cannot be renewed, purges expired sessions and
// refreshes the connection gauges.
func CleanupJob(creds CredentialJanitor, sessions SessionJanitor, retention time.Duration, logger *zap.Logger) JobFunc {
	return func(ctx context.Context) error {
		removed, err := creds.CleanupStaleCredentials(ctx, time.Now().Add(-retention))
		if err != nil {
			return fmt.Errorf("credential cleanup: %w", err)
		}

		expired, err := sessions.DeleteExpired(ctx)
		if err != nil {
			return fmt.Errorf("session cleanup: %w", err)
		}

		counts, err := creds.CountCredentials(ctx)
		if err != nil {
			return fmt.Errorf("counting credentials: %w", err)
		}
		for _, p := range provider.All() {
			metrics.ConnectedCalendars.WithLabelValues(string(p)).Set(float64(counts[string(p)]))
		}
		live, err := sessions.Count(ctx)
		if err != nil {
			return fmt.Errorf("counting sessions: %w", err)
		}
		metrics.ActiveSessions.Set(float64(live))

		if removed > 0 || expired > 0 {
			logger.Info("cleanup finished",
				zap.Int64("credentials_removed", removed),
				zap.Int("sessions_removed", expired))
		}
		return nil
	}
}
