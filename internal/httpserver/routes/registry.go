// Package routes binds handlers to paths. Each file registers one area of
// the API from init, and RegisterAll mounts them on the server router.
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/mw"
)

// Guards are the access policies shared by every route file, built once
// per router so each middleware keeps a single state (rate limit buckets).
type Guards struct {
	Session    func(http.Handler) http.Handler // admin session token
	Reader     func(http.Handler) http.Handler // session or API key
	APIKey     func(http.Handler) http.Handler // API key, header or query
	Restricted func(http.Handler) http.Handler // internal CIDRs only
	Host       func(http.Handler) http.Handler // allowed Host headers
	Login      func(http.Handler) http.Handler // credential check throttle
}

type Registrar func(r chi.Router, d deps.Deps, g Guards)

var registrars []Registrar

// Register queues a registrar. It must be called from init.
func Register(reg Registrar) {
	registrars = append(registrars, reg)
}

func newGuards(d deps.Deps) Guards {
	return Guards{
		Session:    mw.RequireSession(d.Auth, d.Logger),
		Reader:     mw.RequireReader(d.Auth, d.Secrets.APIKey, d.Logger),
		APIKey:     mw.RequireAPIKey(d.Secrets.APIKey, d.Logger),
		Restricted: mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
		Host:       mw.EnforceHost(d.AllowedHosts, d.Logger),
		Login: mw.RateLimit(mw.RateLimitConfig{
			Burst:             d.LoginBurst,
			RefillPerIPPerMin: d.LoginRefillPerMin,
			MaxEntries:        10000,
			SweepInterval:     time.Minute,
			IdleTTL:           15 * time.Minute,
			TrustProxy:        d.TrustProxy,
			Now:               d.TimeNow,
		}),
	}
}

// RegisterAll mounts every registered route on r. Called once from
// httpserver.New.
func RegisterAll(r chi.Router, d deps.Deps) {
	g := newGuards(d)
	for _, reg := range registrars {
		reg(r, d, g)
	}
}
