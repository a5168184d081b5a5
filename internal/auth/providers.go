package auth

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"google.golang.org/api/calendar/v3"

	"taskcal-go/internal/config"
	"taskcal-go/internal/provider"
)

// ErrMissingProviderCredentials is returned when a provider is used without
// an OAuth client id and secret configured for the process.
var ErrMissingProviderCredentials = errors.New("provider OAuth client credentials not configured")

const outlookScope = "https://graph.microsoft.com/Calendars.ReadWrite offline_access"

// ProviderConfig describes how to talk OAuth to one calendar provider.
// Google and Outlook differ only in the values held here.
type ProviderConfig struct {
	Provider       provider.Provider
	ClientID       string
	ClientSecret   string
	PublicClientID string
	RedirectURL    string
	CalendarID     string
	Endpoint       oauth2.Endpoint
	Scopes         []string

	// TokenScope, when set, is sent as the scope parameter of every token
	// endpoint request.
	TokenScope string

	// AuthParams are extra query parameters for the authorization URL.
	AuthParams map[string]string
}

// Configured reports whether the server-side client credentials are present.
func (pc *ProviderConfig) Configured() bool {
	return pc.ClientID != "" && pc.ClientSecret != ""
}

// oauth2Config builds the client configuration used for code exchange.
func (pc *ProviderConfig) oauth2Config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint:     pc.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       pc.Scopes,
	}
}

// publicOAuth2Config builds the configuration for the browser-facing
// authorization URL. It prefers the public client id when one is set.
func (pc *ProviderConfig) publicOAuth2Config() *oauth2.Config {
	cfg := pc.oauth2Config(pc.RedirectURL)
	if pc.PublicClientID != "" {
		cfg.ClientID = pc.PublicClientID
	}
	cfg.ClientSecret = ""
	return cfg
}

// Providers is the provider configuration table.
type Providers map[provider.Provider]*ProviderConfig

// NewProviders builds the table from the application configuration.
func NewProviders(cfg *config.Config) Providers {
	googleEndpoint := google.Endpoint
	googleEndpoint.AuthStyle = oauth2.AuthStyleInParams

	outlookEndpoint := microsoft.AzureADEndpoint("common")
	outlookEndpoint.AuthStyle = oauth2.AuthStyleInParams

	return Providers{
		provider.Google: {
			Provider:       provider.Google,
			ClientID:       cfg.Google.ClientID,
			ClientSecret:   cfg.Google.ClientSecret,
			PublicClientID: cfg.Google.PublicClientID,
			RedirectURL:    cfg.Google.RedirectURL,
			CalendarID:     cfg.Google.CalendarID,
			Endpoint:       googleEndpoint,
			Scopes:         []string{calendar.CalendarEventsScope},
			AuthParams:     map[string]string{"prompt": "consent"},
		},
		provider.Outlook: {
			Provider:       provider.Outlook,
			ClientID:       cfg.Outlook.ClientID,
			ClientSecret:   cfg.Outlook.ClientSecret,
			PublicClientID: cfg.Outlook.PublicClientID,
			RedirectURL:    cfg.Outlook.RedirectURL,
			CalendarID:     cfg.Outlook.CalendarID,
			Endpoint:       outlookEndpoint,
			Scopes:         []string{"https://graph.microsoft.com/Calendars.ReadWrite", "offline_access"},
			TokenScope:     outlookScope,
			AuthParams:     map[string]string{"response_mode": "query"},
		},
	}
}

// Get returns the configuration of p.
func (ps Providers) Get(p provider.Provider) (*ProviderConfig, error) {
	pc, ok := ps[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknown, p)
	}
	return pc, nil
}

// configured returns the configuration of p, failing when its client
// credentials are missing.
func (ps Providers) configured(p provider.Provider) (*ProviderConfig, error) {
	pc, err := ps.Get(p)
	if err != nil {
		return nil, err
	}
	if !pc.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrMissingProviderCredentials, p.DisplayName())
	}
	return pc, nil
}
