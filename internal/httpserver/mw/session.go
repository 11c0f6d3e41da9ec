package mw

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

const (
	HeaderSessionToken = "X-Session-Token"
	HeaderAPIKey       = "X-API-Key"
)

type ctxKey int

const (
	tokenKey ctxKey = iota
	callerKey
)

// Caller values stored by the auth middlewares.
const (
	CallerAdmin  = "admin"
	CallerAPIKey = "api_key"
)

// SessionValidator checks session tokens.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (domain.Session, error)
}

// SessionToken reads the token from X-Session-Token, falling back to an
// "Authorization: Bearer" header.
func SessionToken(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(HeaderSessionToken)); t != "" {
		return t
	}
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// TokenFrom returns the session token accepted by RequireSession.
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

// CallerFrom returns CallerAdmin or CallerAPIKey, or "" for anonymous requests.
func CallerFrom(ctx context.Context) string {
	c, _ := ctx.Value(callerKey).(string)
	return c
}

// RequireSession rejects requests without a valid admin session.
func RequireSession(v SessionValidator, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				unauthorized(w, "session token required")
				return
			}
			if _, err := v.Validate(r.Context(), token); err != nil {
				log.Debug("session rejected",
					logger.Fingerprint(domain.Fingerprint(token)),
					logger.String("path", r.URL.Path),
					logger.Error(err))
				unauthorized(w, err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), tokenKey, token)
			ctx = context.WithValue(ctx, callerKey, CallerAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireReader accepts either a valid session or the API key in the
// X-API-Key header. It guards read-only endpoints.
func RequireReader(v SessionValidator, apiKey func() string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := SessionToken(r); token != "" {
				if _, err := v.Validate(r.Context(), token); err == nil {
					ctx := context.WithValue(r.Context(), tokenKey, token)
					ctx = context.WithValue(ctx, callerKey, CallerAdmin)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				log.Debug("invalid session on read endpoint",
					logger.Fingerprint(domain.Fingerprint(token)))
			}
			if keyMatches(r.Header.Get(HeaderAPIKey), apiKey()) {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, CallerAPIKey)))
				return
			}
			unauthorized(w, "unauthorized")
		})
	}
}

// RequireAPIKey accepts the API key from the X-API-Key header or the
// "token" query parameter, for webhooks that cannot set headers.
func RequireAPIKey(apiKey func() string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(HeaderAPIKey)
			if provided == "" {
				provided = r.URL.Query().Get("token")
			}
			if !keyMatches(provided, apiKey()) {
				log.Warn("api key rejected",
					logger.String("path", r.URL.Path),
					logger.String("remote_ip", r.RemoteAddr))
				unauthorized(w, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, CallerAPIKey)))
		})
	}
}

// keyMatches compares in constant time. An unset key never matches.
func keyMatches(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeErrorJSON(w, http.StatusUnauthorized, msg)
}

func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}
