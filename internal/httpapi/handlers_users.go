package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"loginguard/internal/domain"
)

type userResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email,omitempty"`
	Username    string  `json:"username"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	LastLoginAt *string `json:"last_login_at,omitempty"`
}

func writeUser(w http.ResponseWriter, status int, u domain.User) {
	w.Header().Set("ETag", userETag(u))
	WriteJSON(w, status, userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Username:    u.Username,
		CreatedAt:   formatMillis(u.CreatedAt),
		UpdatedAt:   formatMillis(u.UpdatedAt),
		LastLoginAt: formatMillisPtr(u.LastLoginAt),
	})
}

func (a *api) handleUsersMe(w http.ResponseWriter, r *http.Request) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		WriteDomainError(w, domain.ErrUnauthorized)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=0")
	etag := userETag(u)
	if match := strings.TrimSpace(r.Header.Get("If-None-Match")); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	writeUser(w, http.StatusOK, u)
}

func userETag(u domain.User) string {
	return fmt.Sprintf("W/\"user:%s:%d\"", u.ID, u.UpdatedAt.UnixNano())
}

func formatMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func formatMillisPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	out := formatMillis(*t)
	return &out
}
