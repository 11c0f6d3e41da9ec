package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/handlers"
)

func init() { Register(registerReload) }

func registerReload(r chi.Router, d deps.Deps, g Guards) {
	r.With(g.Host, g.Session).Post("/api/reload", handlers.Reload(d))
}
