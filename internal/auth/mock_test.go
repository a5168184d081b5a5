package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

// memCredentials is an in-memory CredentialRepository and RenewableLister.
type memCredentials struct {
	mu    sync.Mutex
	creds map[string]*storage.Credential
	puts  int
}

func newMemCredentials() *memCredentials {
	return &memCredentials{creds: make(map[string]*storage.Credential)}
}

func (m *memCredentials) Put(ctx context.Context, cred *storage.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	m.creds[stateKey(cred.UserID, cred.Provider)] = &c
	m.puts++
	return nil
}

func (m *memCredentials) Get(ctx context.Context, userID string, p provider.Provider) (*storage.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[stateKey(userID, p)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCredentials) Delete(ctx context.Context, userID string, p provider.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, stateKey(userID, p))
	return nil
}

func (m *memCredentials) ListRenewable(ctx context.Context, expiringBefore time.Time) ([]*storage.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*storage.Credential
	for _, c := range m.creds {
		if c.RefreshToken != "" && c.ExpiresAt.Before(expiringBefore) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// tokenServer stands in for a provider token endpoint.
type tokenServer struct {
	*httptest.Server
	mu     sync.Mutex
	forms  []url.Values
	status int
	// failFor makes requests carrying this refresh token fail with status.
	failFor   string
	expiresIn int
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{status: http.StatusOK, expiresIn: 3600}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		status := ts.status
		expiresIn := ts.expiresIn
		if ts.failFor != "" && r.PostForm.Get("refresh_token") == ts.failFor {
			status = http.StatusBadRequest
		}
		ts.mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{
			"access_token":  "new-access",
			"refresh_token": "rotated-refresh",
			"token_type":    "Bearer",
		}
		if expiresIn != 0 {
			body["expires_in"] = expiresIn
		}
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) setStatus(status int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = status
}

func (ts *tokenServer) setExpiresIn(seconds int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.expiresIn = seconds
}

func (ts *tokenServer) setFailFor(refreshToken string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.failFor = refreshToken
}

func (ts *tokenServer) calls() []url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]url.Values(nil), ts.forms...)
}

func testProviders(tokenURL string) Providers {
	endpoint := oauth2.Endpoint{
		AuthURL:   "https://auth.example.com/authorize",
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return Providers{
		provider.Google: {
			Provider:       provider.Google,
			ClientID:       "g-id",
			ClientSecret:   "g-secret",
			PublicClientID: "g-public",
			RedirectURL:    "http://localhost/auth/google/callback",
			CalendarID:     "primary",
			Endpoint:       endpoint,
			Scopes:         []string{"calendar.events"},
		},
		provider.Outlook: {
			Provider:     provider.Outlook,
			ClientID:     "o-id",
			ClientSecret: "o-secret",
			RedirectURL:  "http://localhost/auth/outlook/callback",
			CalendarID:   "default",
			Endpoint:     endpoint,
			Scopes:       []string{"Calendars.ReadWrite", "offline_access"},
			TokenScope:   outlookScope,
			AuthParams:   map[string]string{"response_mode": "query"},
		},
	}
}

var testNow = time.UnixMilli(1700000000000)

func fixedNow() time.Time { return testNow }

func newTestTokenStore(creds CredentialRepository) *TokenStore {
	s := NewTokenStore(creds, zap.NewNop())
	s.now = fixedNow
	return s
}

func newTestRefresher(providers Providers, store *TokenStore) *Refresher {
	r := NewRefresher(providers, store, nil, zap.NewNop())
	r.now = fixedNow
	return r
}
