package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"loginguard/internal/domain"
)

type lockoutResponse struct {
	Lockout domain.Lockout         `json:"lockout"`
	Events  []domain.SecurityEvent `json:"events"`
}

func (a *api) handleLockoutGet(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PathValue("username"))
	if username == "" {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"username": "required"}))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			WriteDomainError(w, domain.NewValidationError(map[string]string{"limit": "must be 1-200"}))
			return
		}
		limit = n
	}

	events, err := a.lockoutSvc.RecentEvents(r.Context(), username, limit)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if events == nil {
		events = []domain.SecurityEvent{}
	}

	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, http.StatusOK, lockoutResponse{
		Lockout: a.lockoutSvc.Status(r.Context(), username),
		Events:  events,
	})
}

func (a *api) handleLockoutReset(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.PathValue("username"))
	if username == "" {
		WriteDomainError(w, domain.NewValidationError(map[string]string{"username": "required"}))
		return
	}

	actor, _ := CurrentUser(r.Context())
	if err := a.lockoutSvc.Reset(r.Context(), username, actor.Email); err != nil {
		// The lockout is already cleared; only the audit record failed.
		a.logger.Warn("lockout reset audit failed", "username", username, "err", err)
	}
	a.logger.Info("lockout reset", "username", username, "actor", actor.Email)
	w.WriteHeader(http.StatusNoContent)
}
