package app

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal-go/internal/auth"
	"taskcal-go/internal/config"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/storage"
)

func TestHandlers_Login(t *testing.T) {
	env := newTestEnv(t)

	t.Run("json login sets a session cookie", func(t *testing.T) {
		c := env.client(t)
		resp := c.do(http.MethodPost, "/login", map[string]string{"user_id": "alice"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		cookies := resp.Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, sessionCookie, cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)

		resp = c.do(http.MethodGet, "/api/tasks", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("form login redirects home", func(t *testing.T) {
		c := env.client(t)
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/login",
			strings.NewReader(url.Values{"user_id": {"bob"}}.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := c.client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))

		resp = c.do(http.MethodGet, "/", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing user id", func(t *testing.T) {
		c := env.client(t)
		resp := c.do(http.MethodPost, "/login", map[string]string{"user_id": ""})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decodeBody[errorResponse](t, resp)
		assert.NotEmpty(t, body.Error)
	})

	t.Run("login page", func(t *testing.T) {
		c := env.client(t)
		resp := c.do(http.MethodGet, "/login", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	})
}

func TestHandlers_Logout(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.login("alice")
	count, err := env.app.SessionStore.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	resp := c.do(http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	count, err = env.app.SessionStore.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	resp = c.do(http.MethodGet, "/api/tasks", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlers_TaskCRUD(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.login("alice")

	resp := c.do(http.MethodPost, "/api/tasks", map[string]any{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/tasks", map[string]any{"title": "x", "priority": "urgent"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/tasks", map[string]any{"title": "x", "bogus": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/tasks", map[string]any{
		"title":    "Write report",
		"due_date": "2030-01-01T10:00:00Z",
		"due_time": "10:00",
		"priority": "high",
		"category": "work",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[storage.Task](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, storage.Priority("high"), created.Priority)

	resp = c.do(http.MethodPost, "/api/tasks", map[string]any{
		"title":    "File taxes",
		"due_date": "2020-04-15T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	overdue := decodeBody[storage.Task](t, resp)
	assert.Equal(t, storage.Priority("medium"), overdue.Priority)

	resp = c.do(http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]storage.Task](t, resp), 2)

	resp = c.do(http.MethodGet, "/api/tasks/overdue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	overdueList := decodeBody[[]storage.Task](t, resp)
	require.Len(t, overdueList, 1)
	assert.Equal(t, overdue.ID, overdueList[0].ID)

	resp = c.do(http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{
		"title":          "Write final report",
		"clear_due_date": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[storage.Task](t, resp)
	assert.Equal(t, "Write final report", updated.Title)
	assert.Nil(t, updated.DueDate)

	resp = c.do(http.MethodPost, "/api/tasks/"+overdue.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[storage.Task](t, resp).Completed)

	resp = c.do(http.MethodGet, "/api/tasks/overdue", nil)
	assert.Empty(t, decodeBody[[]storage.Task](t, resp))

	resp = c.do(http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[storage.Stats](t, resp)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)

	// Tasks are scoped to their owner.
	other := env.client(t)
	other.login("mallory")
	resp = other.do(http.MethodGet, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = other.do(http.MethodDelete, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = c.do(http.MethodDelete, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = c.do(http.MethodGet, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func createTask(t *testing.T, c *testClient, body map[string]any) storage.Task {
	t.Helper()
	resp := c.do(http.MethodPost, "/api/tasks", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[storage.Task](t, resp)
}

func TestHandlers_SyncGoogle(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.login("alice")

	task := createTask(t, c, map[string]any{"title": "Dentist", "due_date": "2030-05-01T09:00:00Z"})

	resp := c.do(http.MethodPost, "/api/tasks/"+task.ID+"/calendar/google", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "calendar not connected")

	// An already expired credential is refreshed before the sync.
	resp = c.do(http.MethodPut, "/api/calendars/google/tokens", map[string]any{
		"access_token":  "stale-access",
		"refresh_token": "stored-refresh",
		"expires_at":    time.Now().Add(-time.Minute).UnixMilli(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[auth.ConnectionStatus](t, resp)
	assert.True(t, status.Connected)
	assert.True(t, status.Expired)
	assert.Equal(t, "primary", status.CalendarID)

	resp = c.do(http.MethodPost, "/api/tasks/"+task.ID+"/calendar/google", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "g-evt-1", decodeBody[map[string]string](t, resp)["event_id"])

	forms := env.remote.tokenRequests()
	require.Len(t, forms, 1)
	assert.Equal(t, "refresh_token", forms[0]["grant_type"])
	assert.Equal(t, "stored-refresh", forms[0]["refresh_token"])
	assert.Empty(t, forms[0]["scope"])

	resp = c.do(http.MethodGet, "/api/calendars/google/tokens", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status = decodeBody[auth.ConnectionStatus](t, resp)
	assert.False(t, status.Expired)
	assert.True(t, status.Renewable)

	resp = c.do(http.MethodGet, "/api/tasks/"+task.ID, nil)
	assert.Equal(t, "g-evt-1", decodeBody[storage.Task](t, resp).GoogleEventID)

	// Deleting the task removes its remote event.
	resp = c.do(http.MethodDelete, "/api/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"g-evt-1"}, env.remote.deletedEvents(provider.Google))
}

func TestHandlers_SyncOutlook(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.login("alice")

	task := createTask(t, c, map[string]any{"title": "Standup", "due_date": "2030-05-01T09:00:00Z"})

	resp := c.do(http.MethodPut, "/api/calendars/outlook/tokens", map[string]any{
		"access_token":  "live-access",
		"refresh_token": "outlook-refresh",
		"expires_at":    time.Now().Add(time.Hour).UnixMilli(),
		"calendar_id":   "work",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/tasks/"+task.ID+"/calendar/outlook", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "o-evt-1", decodeBody[map[string]string](t, resp)["event_id"])
	assert.Empty(t, env.remote.tokenRequests(), "a live token is used as is")

	resp = c.do(http.MethodDelete, "/api/tasks/"+task.ID+"/calendar/outlook", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"o-evt-1"}, env.remote.deletedEvents(provider.Outlook))

	resp = c.do(http.MethodGet, "/api/tasks/"+task.ID, nil)
	assert.Empty(t, decodeBody[storage.Task](t, resp).OutlookEventID)

	// A manual refresh carries the Outlook scope.
	resp = c.do(http.MethodPost, "/api/calendars/outlook/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refreshed := decodeBody[tokenResponse](t, resp)
	assert.Equal(t, "fresh-access", refreshed.AccessToken)
	assert.Empty(t, refreshed.RefreshToken)
	assert.Greater(t, refreshed.ExpiresAt, time.Now().UnixMilli())

	forms := env.remote.tokenRequests()
	require.Len(t, forms, 1)
	assert.Contains(t, forms[0]["scope"], "Calendars.ReadWrite")

	resp = c.do(http.MethodDelete, "/api/calendars/outlook/tokens", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = c.do(http.MethodGet, "/api/calendars/outlook/tokens", nil)
	assert.False(t, decodeBody[auth.ConnectionStatus](t, resp).Connected)
}

func TestHandlers_SyncErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.login("alice")

	undated := createTask(t, c, map[string]any{"title": "Someday"})
	dated := createTask(t, c, map[string]any{"title": "Soon", "due_date": "2030-01-01T00:00:00Z"})

	resp := c.do(http.MethodPut, "/api/calendars/google/tokens", map[string]any{
		"access_token": "stale",
		"expires_at":   time.Now().Add(-time.Minute).UnixMilli(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown provider", "/api/tasks/" + dated.ID + "/calendar/yahoo", http.StatusBadRequest},
		{"unknown task", "/api/tasks/nope/calendar/google", http.StatusNotFound},
		{"no due date", "/api/tasks/" + undated.ID + "/calendar/google", http.StatusBadRequest},
		{"expired without refresh token", "/api/tasks/" + dated.ID + "/calendar/google", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.do(http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decodeBody[errorResponse](t, resp).Error)
		})
	}

	t.Run("refresh rejected by provider", func(t *testing.T) {
		resp := c.do(http.MethodPut, "/api/calendars/google/tokens", map[string]any{
			"access_token":  "stale",
			"refresh_token": "revoked",
			"expires_at":    time.Now().Add(-time.Minute).UnixMilli(),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		env.remote.setTokenStatus(http.StatusBadRequest)

		resp = c.do(http.MethodPost, "/api/tasks/"+dated.ID+"/calendar/google", nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Contains(t, decodeBody[errorResponse](t, resp).Error, "Bad Request")

		resp = c.do(http.MethodGet, "/api/tasks/"+dated.ID, nil)
		assert.Empty(t, decodeBody[storage.Task](t, resp).GoogleEventID)
	})
}

func TestHandlers_AuthURLAndCallback(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.login("alice")

	resp := c.do(http.MethodGet, "/api/calendars/google/auth-url", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	authURL := decodeBody[authURLResponse](t, resp)
	require.NotEmpty(t, authURL.State)

	u, err := url.Parse(authURL.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "google-id", q.Get("client_id"))
	assert.Equal(t, authURL.State, q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "offline", q.Get("access_type"))

	resp = c.do(http.MethodGet, "/auth/google/callback?code=abc&state=forged", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(http.MethodGet, "/auth/google/callback?code=abc&state="+url.QueryEscape(authURL.State), nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/?connected=google", resp.Header.Get("Location"))

	forms := env.remote.tokenRequests()
	require.Len(t, forms, 1)
	assert.Equal(t, "authorization_code", forms[0]["grant_type"])
	assert.Equal(t, "abc", forms[0]["code"])
	assert.NotEmpty(t, forms[0]["code_verifier"])

	resp = c.do(http.MethodGet, "/api/calendars/google/tokens", nil)
	status := decodeBody[auth.ConnectionStatus](t, resp)
	assert.True(t, status.Connected)
	assert.True(t, status.Renewable)

	resp = c.do(http.MethodGet, "/auth/google/callback?error=access_denied", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlers_Exchange(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Google.ClientSecret = ""
	})
	c := env.client(t)
	c.login("alice")

	resp := c.do(http.MethodPost, "/api/calendars/outlook/exchange", map[string]string{
		"code":         "code-1",
		"redirect_uri": "http://localhost/auth/outlook/callback",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tokens := decodeBody[tokenResponse](t, resp)
	assert.Equal(t, "code-access", tokens.AccessToken)
	assert.Equal(t, "code-refresh", tokens.RefreshToken)
	assert.NotZero(t, tokens.ExpiresAt)

	forms := env.remote.tokenRequests()
	require.Len(t, forms, 1)
	assert.Equal(t, "http://localhost/auth/outlook/callback", forms[0]["redirect_uri"])
	assert.Contains(t, forms[0]["scope"], "offline_access")

	// Exchanging does not store anything.
	resp = c.do(http.MethodGet, "/api/calendars/outlook/tokens", nil)
	assert.False(t, decodeBody[auth.ConnectionStatus](t, resp).Connected)

	resp = c.do(http.MethodPost, "/api/calendars/outlook/exchange", map[string]string{"code": "code-2"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(http.MethodPost, "/api/calendars/google/exchange", map[string]string{
		"code":         "code-3",
		"redirect_uri": "http://localhost/auth/google/callback",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandlers_Health(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	resp := c.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ok", health["status"])
	assert.Len(t, health["jobs"], 2)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{auth.ErrUnauthenticated, http.StatusUnauthorized},
		{storage.ErrNotFound, http.StatusNotFound},
		{storage.ErrConflict, http.StatusConflict},
		{auth.ErrNoRefreshToken, http.StatusConflict},
		{auth.ErrInvalidState, http.StatusBadRequest},
		{provider.ErrUnknown, http.StatusBadRequest},
		{auth.ErrMissingProviderCredentials, http.StatusServiceUnavailable},
		{auth.ErrTokenRefreshFailed, http.StatusBadGateway},
		{auth.ErrCodeExchangeFailed, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
