package handlers

import (
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/mw"
	"github.com/MrSnakeDoc/stackpilot/internal/secrets"
)

type verifyAdminRequest struct {
	Password string `json:"password"`
}

type verifyAdminResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	Cleanup   bool      `json:"cleanup"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// VerifyAdmin exchanges the admin secret for a session token.
func VerifyAdmin(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyAdminRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}

		sess, err := d.Auth.VerifyCredentials(r.Context(), req.Password)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		writeJSON(w, http.StatusOK, verifyAdminResponse{
			Success:   true,
			Token:     sess.Token,
			Cleanup:   d.Auth.IdleCleanup(),
			ExpiresAt: sess.ExpiresAt,
		})
	}
}

// Logout revokes the calling session.
func Logout(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Auth.Revoke(r.Context(), mw.TokenFrom(r.Context()))
		writeJSON(w, http.StatusOK, apiResponse{Success: true})
	}
}

type toggleCleanupRequest struct {
	Enabled *bool `json:"enabled"`
}

type toggleCleanupResponse struct {
	Success bool `json:"success"`
	Enabled bool `json:"enabled"`
}

// ToggleSessionCleanup switches sliding expiry and the idle sweeper.
func ToggleSessionCleanup(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req toggleCleanupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if req.Enabled == nil {
			writeError(w, d.Logger, &domain.ValidationError{Field: "enabled", Reason: "required"})
			return
		}

		actor := domain.Fingerprint(mw.TokenFrom(r.Context()))
		d.Auth.SetIdleCleanup(r.Context(), *req.Enabled, actor)
		writeJSON(w, http.StatusOK, toggleCleanupResponse{Success: true, Enabled: *req.Enabled})
	}
}

type rotateKeyRequest struct {
	NewKey string `json:"new_key"`
}

// RotateAPIKey replaces the webhook API key. Non alphanumeric characters
// are stripped before the length check.
func RotateAPIKey(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rotateKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}

		key := sanitizeKey(req.NewKey)
		if err := secrets.ValidateAPIKey(key); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "key does not meet security requirements"})
			return
		}

		actor := domain.Fingerprint(mw.TokenFrom(r.Context()))
		if err := d.Secrets.RotateAPIKey(key); err != nil {
			record(r.Context(), d, domain.AuditEntry{
				Level:    domain.LevelError,
				Category: domain.CategoryAuth,
				Action:   "rotate-api-key",
				Actor:    actor,
				Outcome:  "failed",
				Message:  err.Error(),
			})
			writeError(w, d.Logger, err)
			return
		}

		record(r.Context(), d, domain.AuditEntry{
			Level:    domain.LevelWarn,
			Category: domain.CategoryAuth,
			Action:   "rotate-api-key",
			Actor:    actor,
			Outcome:  "success",
			Message:  "api key rotated",
		})
		writeJSON(w, http.StatusOK, apiResponse{Success: true})
	}
}

func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, s)
}
