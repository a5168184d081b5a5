package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"taskcal-go/internal/logging"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

var (
	ErrCodeExchangeFailed = errors.New("failed to exchange authorization code")
	ErrInvalidState       = errors.New("invalid OAuth state")
)

const verifierLength = 64

// OAuthManager drives the authorization code flow for the calendar providers.
type OAuthManager struct {
	providers Providers
	tokens    *TokenStore
	flows     FlowStore
	client    *http.Client
	logger    *zap.Logger
}

// NewOAuthManager creates a new OAuthManager instance. A nil client uses
// http.DefaultClient.
func NewOAuthManager(providers Providers, tokens *TokenStore, flows FlowStore, client *http.Client, logger *zap.Logger) *OAuthManager {
	if client == nil {
		client = http.DefaultClient
	}
	return &OAuthManager{
		providers: providers,
		tokens:    tokens,
		flows:     flows,
		client:    client,
		logger:    logger,
	}
}

func stateKey(userID string, p provider.Provider) string {
	return userID + "/" + string(p)
}

// AuthURL generates the provider authorization URL for the caller with a
// fresh state and PKCE challenge.
func (m *OAuthManager) AuthURL(ctx context.Context, p provider.Provider) (string, string, error) {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return "", "", err
	}
	pc, err := m.providers.Get(p)
	if err != nil {
		return "", "", err
	}
	cfg := pc.publicOAuth2Config()
	if cfg.ClientID == "" {
		return "", "", fmt.Errorf("%w: %s client id", ErrMissingProviderCredentials, p.DisplayName())
	}

	verifier, err := NewCodeVerifier(verifierLength)
	if err != nil {
		return "", "", err
	}

	state, err := generateRandomState()
	if err != nil {
		return "", "", err
	}
	if err := m.flows.Put(stateKey(userID, p), PendingFlow{State: state, Verifier: verifier}); err != nil {
		return "", "", fmt.Errorf("failed to store pending flow: %w", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	}
	for k, v := range pc.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	return cfg.AuthCodeURL(state, opts...), state, nil
}

// ExchangeCode trades an authorization code for tokens without storing them.
// redirectURI must match the one the code was issued for.
func (m *OAuthManager) ExchangeCode(ctx context.Context, p provider.Provider, code, redirectURI string) (*oauth2.Token, error) {
	pc, err := m.providers.configured(p)
	if err != nil {
		return nil, err
	}
	return m.exchange(ctx, pc, code, redirectURI, "")
}

// HandleCallback validates the callback state for the caller, exchanges the
// code and stores the tokens against the provider's default calendar.
func (m *OAuthManager) HandleCallback(ctx context.Context, p provider.Provider, code, state string) error {
	userID, err := UserIDFromContext(ctx)
	if err != nil {
		return err
	}
	if code == "" {
		return fmt.Errorf("%w: authorization code cannot be empty", storage.ErrInvalidInput)
	}
	if state == "" {
		return fmt.Errorf("%w: state cannot be empty", storage.ErrInvalidInput)
	}

	flow, ok := m.flows.Take(stateKey(userID, p), state)
	if !ok {
		return ErrInvalidState
	}

	pc, err := m.providers.configured(p)
	if err != nil {
		return err
	}

	token, err := m.exchange(ctx, pc, code, pc.RedirectURL, flow.Verifier)
	if err != nil {
		m.logger.Warn("authorization code exchange failed",
			logging.UserID(userID), logging.Provider(p), zap.Error(err))
		return err
	}

	return m.tokens.Store(ctx, p, token, pc.CalendarID)
}

func (m *OAuthManager) exchange(ctx context.Context, pc *ProviderConfig, code, redirectURI, verifier string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code cannot be empty", storage.ErrInvalidInput)
	}

	var opts []oauth2.AuthCodeOption
	if pc.TokenScope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", pc.TokenScope))
	}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	token, err := pc.oauth2Config(redirectURI).Exchange(ctx, code, opts...)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, fmt.Errorf("%w: %s", ErrCodeExchangeFailed, http.StatusText(re.Response.StatusCode))
		}
		return nil, fmt.Errorf("%w: %v", ErrCodeExchangeFailed, err)
	}
	return token, nil
}

// generateRandomState generates a random state parameter for OAuth flow
func generateRandomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
