package httpapi

import (
	"errors"
	"net/http"
	"time"

	"pmrp.org/internal/audit"
	"pmrp.org/internal/auth"
)

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	users, err := a.sessions.ListUsers(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.Identity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type grantRequest struct {
	UserID        string `json:"user_id"`
	Resource      string `json:"resource"`
	Action        string `json:"action"`
	ExpiresInDays int    `json:"expires_in_days"`
}

type revokeRequest struct {
	UserID   string `json:"user_id"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (a *API) handleAdminPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		grants, err := a.ledger.ListGrants(r.Context(), userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if grants == nil {
			grants = []auth.PermissionGrant{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": grants})
	case http.MethodPost:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		action, err := auth.ParseAction(req.Action)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		grant, err := a.ledger.Grant(r.Context(), auth.GrantInput{
			UserID:        req.UserID,
			Resource:      req.Resource,
			Action:        action,
			GrantedBy:     p.Identity.ID,
			ExpiresInDays: req.ExpiresInDays,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "permissions.grant", map[string]any{
			"target_user": grant.UserID,
			"resource":    grant.Resource,
			"action":      string(grant.Action),
		})
		writeJSON(w, http.StatusCreated, grant)
	case http.MethodDelete:
		var req revokeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		action, err := auth.ParseAction(req.Action)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if err := a.ledger.Revoke(r.Context(), req.UserID, req.Resource, action); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "permissions.revoke", map[string]any{
			"target_user": req.UserID,
			"resource":    req.Resource,
			"action":      req.Action,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

type issueKeyRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

func (a *API) handleAdminAPIKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		keys, err := a.apiKeys.List(r.Context(), p.Identity.ID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if keys == nil {
			keys = []auth.APIKey{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
	case http.MethodPost:
		var req issueKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		issued, err := a.apiKeys.Issue(r.Context(), p.Identity.ID, req.Name, p.Identity.ID, req.ExpiresInDays)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "api_keys.issue", map[string]any{
			"key_id": issued.KeyID,
		})
		writeJSON(w, http.StatusCreated, issued)
	case http.MethodDelete:
		keyID := r.URL.Query().Get("id")
		if keyID == "" {
			writeError(w, r, http.StatusBadRequest, "key id is required")
			return
		}
		if err := a.apiKeys.Revoke(r.Context(), keyID, p.Identity.ID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "api_keys.revoke", map[string]any{
			"key_id": keyID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	if a.stats == nil {
		writeError(w, r, http.StatusServiceUnavailable, "stats unavailable")
		return
	}
	period, err := audit.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := a.stats.Stats(r.Context(), period.Window(time.Now().UTC()))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	stats.Period = period
	writeJSON(w, http.StatusOK, stats)
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
