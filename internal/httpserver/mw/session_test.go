package mw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

type stubValidator map[string]bool

func (v stubValidator) Validate(_ context.Context, token string) (domain.Session, error) {
	if v[token] {
		return domain.Session{Token: token}, nil
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

const testKey = "abcdefghijklmnop1234"

func apiKey() string { return testKey }

// echo answers with the caller kind and token seen in the context.
func echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Caller", CallerFrom(r.Context()))
		w.Header().Set("X-Token", TokenFrom(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestSessionToken(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "custom header", headers: map[string]string{HeaderSessionToken: "abc"}, want: "abc"},
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer xyz"}, want: "xyz"},
		{name: "custom header wins", headers: map[string]string{HeaderSessionToken: "abc", "Authorization": "Bearer xyz"}, want: "abc"},
		{name: "basic auth ignored", headers: map[string]string{"Authorization": "Basic Zm9v"}, want: ""},
		{name: "none", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := SessionToken(r); got != tt.want {
				t.Errorf("SessionToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireSession(t *testing.T) {
	h := RequireSession(stubValidator{"good": true}, logger.Nop())(echo())

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "valid", token: "good", status: http.StatusNoContent},
		{name: "unknown", token: "bad", status: http.StatusUnauthorized},
		{name: "missing", token: "", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.token != "" {
				r.Header.Set(HeaderSessionToken, tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusNoContent {
				if got := rec.Header().Get("X-Caller"); got != CallerAdmin {
					t.Errorf("caller = %q, want %q", got, CallerAdmin)
				}
				if got := rec.Header().Get("X-Token"); got != tt.token {
					t.Errorf("token = %q, want %q", got, tt.token)
				}
			}
		})
	}
}

func TestRequireSessionRejectsAPIKey(t *testing.T) {
	h := RequireSession(stubValidator{}, logger.Nop())(echo())

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(HeaderAPIKey, testKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireReader(t *testing.T) {
	h := RequireReader(stubValidator{"good": true}, apiKey, logger.Nop())(echo())

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		caller  string
	}{
		{name: "session", headers: map[string]string{HeaderSessionToken: "good"}, status: http.StatusNoContent, caller: CallerAdmin},
		{name: "api key", headers: map[string]string{HeaderAPIKey: testKey}, status: http.StatusNoContent, caller: CallerAPIKey},
		{name: "bad session falls back to key", headers: map[string]string{HeaderSessionToken: "bad", HeaderAPIKey: testKey}, status: http.StatusNoContent, caller: CallerAPIKey},
		{name: "wrong key", headers: map[string]string{HeaderAPIKey: "nope"}, status: http.StatusUnauthorized},
		{name: "nothing", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := rec.Header().Get("X-Caller"); got != tt.caller {
				t.Errorf("caller = %q, want %q", got, tt.caller)
			}
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	h := RequireAPIKey(apiKey, logger.Nop())(echo())

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{name: "header", target: "/hook", header: testKey, status: http.StatusNoContent},
		{name: "query", target: "/hook?token=" + testKey, status: http.StatusNoContent},
		{name: "wrong query", target: "/hook?token=wrong", status: http.StatusUnauthorized},
		{name: "missing", target: "/hook", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tt.target, nil)
			if tt.header != "" {
				r.Header.Set(HeaderAPIKey, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRequireAPIKeyUnsetNeverMatches(t *testing.T) {
	h := RequireAPIKey(func() string { return "" }, logger.Nop())(echo())

	r := httptest.NewRequest(http.MethodPost, "/hook?token=", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when no key is configured", rec.Code)
	}
}
