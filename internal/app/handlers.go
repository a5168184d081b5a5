package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"taskcal-go/internal/auth"
	"taskcal-go/internal/calendar"
	"taskcal-go/internal/calsync"
	"taskcal-go/internal/logging"
	"taskcal-go/internal/metrics"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/session"
	"taskcal-go/internal/storage"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// routes registers every HTTP handler.
func (a *Application) routes() http.Handler {
	mux := http.NewServeMux()
	protect := func(h http.HandlerFunc) http.Handler { return a.requireAuth(h) }

	// Public routes
	mux.HandleFunc("GET /login", a.handleLoginPage)
	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("POST /logout", a.handleLogout)
	mux.HandleFunc("GET /healthz", a.handleHealth)

	// Protected routes
	mux.Handle("GET /{$}", protect(a.handleDashboard))
	mux.Handle("GET /auth/{provider}/callback", protect(a.handleAuthCallback))

	mux.Handle("GET /api/tasks", protect(a.handleListTasks))
	mux.Handle("POST /api/tasks", protect(a.handleCreateTask))
	mux.Handle("GET /api/tasks/overdue", protect(a.handleListOverdue))
	mux.Handle("GET /api/tasks/{id}", protect(a.handleGetTask))
	mux.Handle("PATCH /api/tasks/{id}", protect(a.handleUpdateTask))
	mux.Handle("DELETE /api/tasks/{id}", protect(a.handleDeleteTask))
	mux.Handle("POST /api/tasks/{id}/toggle", protect(a.handleToggleTask))
	mux.Handle("POST /api/tasks/{id}/calendar/{provider}", protect(a.handleSyncTask))
	mux.Handle("DELETE /api/tasks/{id}/calendar/{provider}", protect(a.handleUnsyncTask))

	mux.Handle("GET /api/calendars/{provider}/auth-url", protect(a.handleAuthURL))
	mux.Handle("POST /api/calendars/{provider}/exchange", protect(a.handleExchange))
	mux.Handle("PUT /api/calendars/{provider}/tokens", protect(a.handleStoreTokens))
	mux.Handle("GET /api/calendars/{provider}/tokens", protect(a.handleTokenStatus))
	mux.Handle("DELETE /api/calendars/{provider}/tokens", protect(a.handleDisconnect))
	mux.Handle("POST /api/calendars/{provider}/refresh", protect(a.handleRefresh))

	mux.Handle("GET /api/stats", protect(a.handleStats))

	return a.logRequests(mux)
}

//
// Response helpers
//

type errorResponse struct {
	Error string `json:"error"`
}

func (a *Application) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Warn("failed to write response", zap.Error(err))
	}
}

// statusFor maps a domain error to an HTTP status code.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, calsync.ErrTaskNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calsync.ErrCalendarNotConnected),
		errors.Is(err, auth.ErrNoRefreshToken),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, calsync.ErrNoDueDate),
		errors.Is(err, auth.ErrInvalidState),
		errors.Is(err, provider.ErrUnknown),
		errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingProviderCredentials):
		return http.StatusServiceUnavailable
	case errors.Is(err, auth.ErrTokenRefreshFailed),
		errors.Is(err, auth.ErrCodeExchangeFailed),
		errors.Is(err, calendar.ErrRemoteEventCreateFailed),
		errors.Is(err, calendar.ErrRemoteEventDeleteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *Application) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = http.StatusText(status)
	}
	a.writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body into dst and validates it.
func (a *Application) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return a.validate.Struct(dst)
}

func pathProvider(r *http.Request) (provider.Provider, error) {
	return provider.Parse(r.PathValue("provider"))
}

//
// Authentication Handlers
//

const loginPage = `<!doctype html>
<html><body>
<form method="post" action="/login">
<label>User <input name="user_id" required></label>
<button type="submit">Sign in</button>
</form>
</body></html>
`

func (a *Application) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, loginPage)
}

type loginRequest struct {
	UserID string `json:"user_id" validate:"required,max=128,printascii"`
}

// handleLogin opens a session for the user named in the request. Identity
// verification happens upstream; this endpoint only mints the session.
func (a *Application) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	isJSON := mediaType == "application/json"
	if isJSON {
		if err := a.decode(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	} else {
		req.UserID = r.PostFormValue("user_id")
		if err := a.validate.Struct(&req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}

	ttl := a.Config.SessionTTL.Duration
	sessionID, err := a.SessionStore.Create(r.Context(), req.UserID, ttl)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("failed to create session: %w", err))
		return
	}
	a.updateSessionGauge(r.Context())

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Expires:  a.now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	a.Logger.Info("user logged in", logging.UserID(req.UserID))

	if !isJSON {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"user_id": req.UserID})
}

func (a *Application) updateSessionGauge(ctx context.Context) {
	n, err := a.SessionStore.Count(ctx)
	if err != nil {
		a.Logger.Warn("failed to count sessions", zap.Error(err))
		return
	}
	metrics.ActiveSessions.Set(float64(n))
}

// handleLogout clears the user's session.
func (a *Application) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if err := a.SessionStore.Delete(r.Context(), cookie.Value); err != nil && !errors.Is(err, session.ErrNotFound) {
			a.Logger.Warn("failed to delete session", zap.Error(err))
		}
		a.updateSessionGauge(r.Context())
	}
	clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleAuthCallback completes the provider consent flow and stores the tokens.
func (a *Application) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		a.writeError(w, r, fmt.Errorf("%w: authorization denied: %s", errBadRequest, errParam))
		return
	}

	if err := a.Auth.HandleCallback(r.Context(), p, q.Get("code"), q.Get("state")); err != nil {
		a.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/?connected="+string(p), http.StatusSeeOther)
}

//
// Application Handlers
//

type healthResponse struct {
	Status  string            `json:"status"`
	Workers any               `json:"workers"`
	Jobs    any               `json:"jobs"`
	Time    time.Time         `json:"time"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Workers: a.WorkerPool.Stats(),
		Jobs:    a.Scheduler.Jobs(),
		Time:    a.now().UTC(),
	}
	status := http.StatusOK
	if err := a.Storage.DB().PingContext(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Errors = map[string]string{"database": err.Error()}
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, status, resp)
}

// handleDashboard greets the authenticated user.
func (a *Application) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	stats, err := a.Storage.GetStats(r.Context(), userID, a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Welcome, %s! You have %d open tasks, %d overdue.\n", userID, stats.Pending, stats.Overdue)
}

func (a *Application) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.UserIDFromContext(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	stats, err := a.Storage.GetStats(r.Context(), userID, a.now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}
