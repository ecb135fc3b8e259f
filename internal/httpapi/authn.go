package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"pmrp.org/internal/audit"
	"pmrp.org/internal/auth"
	"pmrp.org/internal/ids"
)

const (
	sessionCookie = "pm_session"
	authHeader    = "Authorization"
	bearerScheme  = "Bearer "
)

// withAuth resolves the session cookie, or a Bearer API key on admin
// routes, into a request principal. Requests without credentials pass
// through anonymously; handlers decide what needs one.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
			ident, err := a.sessions.Resolve(r.Context(), c.Value)
			switch {
			case err == nil:
				admin, aerr := a.ledger.IsAdminConsoleUser(r.Context(), ident.ID)
				if aerr != nil {
					writeError(w, r, http.StatusInternalServerError, "authentication error")
					return
				}
				ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{Identity: ident, Admin: admin})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrInvalidInput):
				// Stale cookie; fall through as anonymous.
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
				return
			}
		}

		if strings.HasPrefix(r.URL.Path, "/api/admin/") {
			if raw, ok := extractBearer(r.Header.Get(authHeader)); ok {
				key, err := a.apiKeys.Authenticate(r.Context(), raw)
				if err != nil {
					if errors.Is(err, auth.ErrUnauthenticated) {
						writeError(w, r, http.StatusUnauthorized, "invalid api key")
						return
					}
					writeError(w, r, http.StatusInternalServerError, "authentication error")
					return
				}
				p := auth.Principal{
					Identity: auth.Identity{ID: key.UserID, Username: key.Name},
					Admin:    true,
				}
				next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), p)))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// requireUser returns the principal or writes 401.
func (a *API) requireUser(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return p, true
}

// requireAdmin returns the principal or writes 401/403.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := a.requireUser(w, r)
	if !ok {
		return auth.Principal{}, false
	}
	if !p.Admin {
		writeError(w, r, http.StatusForbidden, "admin access required")
		return auth.Principal{}, false
	}
	return p, true
}

// recordAudit persists one row per API request.
func (a *API) recordAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.recorder == nil || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w, code: 200}
		start := time.Now()
		next.ServeHTTP(sw, r)

		entry := audit.Entry{
			ID:        ids.New(),
			RequestID: RequestIDFromContext(r.Context()),
			Endpoint:  r.URL.Path,
			Method:    r.Method,
			Status:    sw.code,
			LatencyMS: time.Since(start).Milliseconds(),
			CreatedAt: time.Now().UTC(),
		}
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			entry.UserID = p.Identity.ID
		}
		if err := a.recorder.Record(r.Context(), entry); err != nil {
			_ = audit.LogEvent(r.Context(), "audit.record_failed", map[string]any{
				"error": err.Error(),
			})
		}
	})
}

func extractBearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerScheme)) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerScheme):])
	return token, token != ""
}
