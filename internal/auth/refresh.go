package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"taskcal-go/internal/logging"
	"taskcal-go/internal/metrics"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

var (
	ErrNoRefreshToken     = errors.New("no refresh token available, reconnect the calendar")
	ErrTokenRefreshFailed = errors.New("failed to refresh token")
)

// tokenResponse is the token endpoint reply shared by Google and Microsoft.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Refresher obtains new access tokens with a stored refresh token.
type Refresher struct {
	providers Providers
	store     *TokenStore
	client    *http.Client
	now       func() time.Time
	logger    *zap.Logger
}

// NewRefresher creates a Refresher. A nil client uses http.DefaultClient.
func NewRefresher(providers Providers, store *TokenStore, client *http.Client, logger *zap.Logger) *Refresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Refresher{
		providers: providers,
		store:     store,
		client:    client,
		now:       time.Now,
		logger:    logger,
	}
}

// Refresh renews the caller's access token for p and stores it. The stored
// refresh token is kept even when the provider issues a new one.
func (r *Refresher) Refresh(ctx context.Context, p provider.Provider) (*oauth2.Token, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	pc, err := r.providers.configured(p)
	if err != nil {
		return nil, err
	}

	cred, err := r.store.Get(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s is not connected", ErrNoRefreshToken, p.DisplayName())
	}
	if err != nil {
		return nil, err
	}
	if cred.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	token, err := r.requestToken(ctx, pc, cred.RefreshToken)
	metrics.TokenRefreshes.WithLabelValues(p.String(), metrics.Outcome(err)).Inc()
	if err != nil {
		r.logger.Warn("token refresh failed",
			logging.UserID(userID), logging.Provider(p), zap.Error(err))
		return nil, err
	}

	token.RefreshToken = cred.RefreshToken
	if err := r.store.Store(ctx, p, token, cred.CalendarID); err != nil {
		return nil, err
	}

	r.logger.Debug("refreshed access token",
		logging.UserID(userID), logging.Provider(p), zap.Time("expires_at", token.Expiry))
	return token, nil
}

func (r *Refresher) requestToken(ctx context.Context, pc *ProviderConfig, refreshToken string) (*oauth2.Token, error) {
	data := url.Values{}
	data.Set("client_id", pc.ClientID)
	data.Set("client_secret", pc.ClientSecret)
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")
	if pc.TokenScope != "" {
		data.Set("scope", pc.TokenScope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.Endpoint.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrTokenRefreshFailed, http.StatusText(resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrTokenRefreshFailed, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: response has no access token", ErrTokenRefreshFailed)
	}
	if tr.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: response has no expiry", ErrTokenRefreshFailed)
	}

	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Expiry:      r.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
