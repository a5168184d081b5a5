package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"taskcal-go/internal/logging"
	"taskcal-go/internal/storage"
)

// RenewableLister lists credentials that carry a refresh token and expire
// before a given instant.
type RenewableLister interface {
	ListRenewable(ctx context.Context, expiringBefore time.Time) ([]*storage.Credential, error)
}

// TokenRefreshService refreshes access tokens ahead of their expiry so that
// sync requests rarely pay for a refresh.
type TokenRefreshService struct {
	creds     RenewableLister
	refresher *Refresher
	window    time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewTokenRefreshService creates a new TokenRefreshService. Credentials
// expiring within window are refreshed.
func NewTokenRefreshService(creds RenewableLister, refresher *Refresher, window time.Duration, logger *zap.Logger) *TokenRefreshService {
	return &TokenRefreshService{
		creds:     creds,
		refresher: refresher,
		window:    window,
		now:       time.Now,
		logger:    logger,
	}
}

// RefreshResult counts the outcome of one refresh pass.
type RefreshResult struct {
	Refreshed int
	Failed    int
}

// RefreshExpiring refreshes every renewable credential expiring within the
// window. A failure for one user is logged and does not stop the pass.
func (s *TokenRefreshService) RefreshExpiring(ctx context.Context) (RefreshResult, error) {
	var result RefreshResult

	creds, err := s.creds.ListRenewable(ctx, s.now().Add(s.window))
	if err != nil {
		return result, err
	}

	for _, cred := range creds {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		userCtx := WithUserID(ctx, cred.UserID)
		if _, err := s.refresher.Refresh(userCtx, cred.Provider); err != nil {
			result.Failed++
			s.logger.Error("proactive token refresh failed",
				logging.UserID(cred.UserID),
				logging.Provider(cred.Provider),
				zap.Error(err))
			continue
		}
		result.Refreshed++
	}

	if len(creds) > 0 {
		s.logger.Info("token refresh pass finished",
			zap.Int("refreshed", result.Refreshed),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}
