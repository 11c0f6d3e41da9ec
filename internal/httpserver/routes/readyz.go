package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/handlers"
)

func init() { Register(registerProbes) }

func registerProbes(r chi.Router, d deps.Deps, g Guards) {
	r.Get("/healthz", handlers.Healthz(d))
	r.With(g.Restricted).Get("/readyz", handlers.Readyz(d))
	r.With(g.Restricted).Get("/infra", handlers.Infra(d))
}
