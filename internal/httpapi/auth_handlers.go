package httpapi

import (
	"errors"
	"net/http"
	"time"

	"pmrp.org/internal/audit"
	"pmrp.org/internal/auth"
	"pmrp.org/internal/identity"
)

const oauthStateCookie = "pm_oauth_state"

func (a *API) handleDiscordLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	state, err := a.provider.NewState()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.provider.AuthorizeURL(state), http.StatusFound)
}

func (a *API) handleDiscordCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	state := r.URL.Query().Get("state")
	if err := a.provider.ValidateState(state); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid oauth state")
		return
	}
	if c, err := r.Cookie(oauthStateCookie); err != nil || c.Value != state {
		writeError(w, r, http.StatusBadRequest, "oauth state mismatch")
		return
	}

	profile, err := a.provider.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		if errors.Is(err, identity.ErrExchangeFailed) {
			writeError(w, r, http.StatusBadGateway, "identity provider rejected the code")
			return
		}
		writeError(w, r, http.StatusBadGateway, "identity provider unavailable")
		return
	}

	sess, err := a.sessions.Create(r.Context(), auth.Identity{
		ID:        profile.ID,
		Username:  profile.Username,
		AvatarURL: profile.AvatarURL,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	// Clear the single-use state cookie.
	http.SetCookie(w, &http.Cookie{
		Name: oauthStateCookie, Value: "", Path: "/api/auth", MaxAge: -1,
		HttpOnly: true, Secure: a.cfg.SecureCookies, SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, a.sessionCookie(sess.ID, int(time.Until(sess.ExpiresAt).Seconds())))

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": profile.ID,
	})
	http.Redirect(w, r, a.cfg.FrontendURL, http.StatusFound)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if err := a.sessions.Revoke(r.Context(), c.Value); err != nil && !errors.Is(err, auth.ErrInvalidInput) {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
	}
	http.SetCookie(w, a.sessionCookie("", -1))
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     p.Identity,
		"is_admin": p.Admin,
	})
}

func (a *API) handlePageAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	path := r.URL.Query().Get("path")

	var userID string
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		userID = p.Identity.ID
	}
	allowed, err := a.ledger.CanViewPage(r.Context(), userID, path)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"allowed": allowed,
	})
}

func (a *API) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
