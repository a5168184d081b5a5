package app

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

func (a *Application) handleSyncTask(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	eventID, err := a.Sync.SyncTask(r.Context(), p, r.PathValue("id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"provider": string(p), "event_id": eventID})
}

func (a *Application) handleUnsyncTask(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Sync.RemoveTask(r.Context(), p, r.PathValue("id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type authURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

func (a *Application) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	url, state, err := a.Auth.AuthURL(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, authURLResponse{URL: url, State: state})
}

type exchangeRequest struct {
	Code        string `json:"code" validate:"required"`
	RedirectURI string `json:"redirect_uri" validate:"required,url"`
}

// tokenResponse carries token material back to the client. ExpiresAt is
// epoch milliseconds.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

func newTokenResponse(token *oauth2.Token) tokenResponse {
	resp := tokenResponse{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if !token.Expiry.IsZero() {
		resp.ExpiresAt = token.Expiry.UnixMilli()
	}
	return resp
}

// handleExchange trades an authorization code for tokens and returns them
// unstored. The client stores them through the tokens endpoint.
func (a *Application) handleExchange(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req exchangeRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	token, err := a.Auth.ExchangeCode(r.Context(), p, req.Code, req.RedirectURI)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, newTokenResponse(token))
}

type storeTokensRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at" validate:"gte=0"`
	CalendarID   string `json:"calendar_id" validate:"omitempty,max=512"`
}

func (a *Application) handleStoreTokens(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req storeTokensRequest
	if err := a.decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	token := &oauth2.Token{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken}
	if req.ExpiresAt > 0 {
		token.Expiry = time.UnixMilli(req.ExpiresAt)
	}
	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = a.calendarID(p)
	}

	if err := a.Tokens.Store(r.Context(), p, token, calendarID); err != nil {
		a.writeError(w, r, err)
		return
	}
	status, err := a.Tokens.Status(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, status)
}

func (a *Application) handleTokenStatus(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status, err := a.Tokens.Status(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, status)
}

func (a *Application) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Tokens.Delete(r.Context(), p); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Application) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p, err := pathProvider(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	token, err := a.Refresher.Refresh(r.Context(), p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := newTokenResponse(token)
	resp.RefreshToken = ""
	a.writeJSON(w, http.StatusOK, resp)
}
