package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/handlers"
)

func init() { Register(registerServices) }

func registerServices(r chi.Router, d deps.Deps, g Guards) {
	r.Get("/api/services", handlers.Services(d))
	r.With(g.Reader).Get("/api/updates", handlers.Updates(d))
	r.With(g.Session).Post("/api/services/strategy", handlers.SetStrategy(d))
}
