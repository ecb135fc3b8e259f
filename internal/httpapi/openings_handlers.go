package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"pmrp.org/internal/audit"
	"pmrp.org/internal/auth"
	"pmrp.org/internal/openings"
)

func (a *API) handleOpenings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeClosed := r.URL.Query().Get("include_closed") == "true"
		list, err := a.openings.List(r.Context(), includeClosed)
		if err != nil {
			handleOpeningError(w, r, err)
			return
		}
		if list == nil {
			list = []openings.Opening{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"openings": list})
	case http.MethodPost:
		p, ok := a.requireUser(w, r)
		if !ok {
			return
		}
		var req openings.CreateInput
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		o, err := a.openings.Create(r.Context(), openings.Author{
			ID:   p.Identity.ID,
			Name: p.Identity.Username,
		}, req)
		if err != nil {
			handleOpeningError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "openings.create", map[string]any{
			"opening_id": o.ID,
		})
		w.Header().Set("Location", "/api/openings/"+o.ID)
		writeJSON(w, http.StatusCreated, o)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOpeningScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/openings/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] == "events":
		a.handleOpeningEvents(w, r)
	case len(parts) == 1:
		a.handleOpening(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "transfer":
		a.handleOpeningTransfer(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleOpening(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		o, err := a.openings.Get(r.Context(), id)
		if err != nil {
			handleOpeningError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	case http.MethodPatch:
		a.handleOpeningPatch(w, r, id)
	case http.MethodDelete:
		a.handleOpeningDelete(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleOpeningPatch(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	allowed, err := a.ledger.HasAccess(r.Context(), p.Identity.ID, auth.ResourceDepartmentPosts, auth.ActionModify)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "post modification requires a grant")
		return
	}
	var patch openings.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	o, err := a.openings.Update(r.Context(), id, patch)
	if err != nil {
		handleOpeningError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "openings.update", map[string]any{
		"opening_id": o.ID,
	})
	writeJSON(w, http.StatusOK, o)
}

// handleOpeningDelete branches on the caller's grants: holders of the posts
// delete permission remove the row outright, authors close their own post.
func (a *API) handleOpeningDelete(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	canDelete, err := a.ledger.HasAccess(r.Context(), p.Identity.ID, auth.ResourceDepartmentPosts, auth.ActionDelete)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if canDelete {
		if err := a.openings.AdminDelete(r.Context(), id); err != nil {
			handleOpeningError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "openings.delete", map[string]any{
			"opening_id": id,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
		return
	}

	o, err := a.openings.Close(r.Context(), id, p.Identity.ID)
	if err != nil {
		handleOpeningError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "openings.close", map[string]any{
		"opening_id": o.ID,
	})
	writeJSON(w, http.StatusOK, o)
}

type transferRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}

func (a *API) handleOpeningTransfer(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	allowed, err := a.ledger.HasAccess(r.Context(), p.Identity.ID, auth.ResourceDepartmentPosts, auth.ActionAdmin)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "ownership transfer requires a grant")
		return
	}
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	owner := openings.Author{ID: strings.TrimSpace(req.NewOwnerID)}
	owner.Name = auth.ShadowUsername(owner.ID)
	if users, err := a.sessions.ListUsers(r.Context(), owner.ID); err == nil {
		for _, u := range users {
			if u.ID == owner.ID {
				owner.Name = u.Username
				break
			}
		}
	}

	o, err := a.openings.TransferOwnership(r.Context(), id, owner)
	if err != nil {
		handleOpeningError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "openings.transfer", map[string]any{
		"opening_id":   o.ID,
		"new_owner_id": owner.ID,
	})
	writeJSON(w, http.StatusOK, o)
}

// handleOpeningEvents streams lifecycle events over SSE.
func (a *API) handleOpeningEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := a.stream.Subscribe(r.Context())

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

func handleOpeningError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, openings.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, openings.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, openings.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, openings.ErrAlreadyClosed):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
