package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/handlers"
)

func init() { Register(registerAuth) }

func registerAuth(r chi.Router, d deps.Deps, g Guards) {
	r.With(g.Login).Post("/api/verify-admin", handlers.VerifyAdmin(d))

	r.Group(func(r chi.Router) {
		r.Use(g.Session)
		r.Post("/api/logout", handlers.Logout(d))
		r.Post("/api/toggle-session-cleanup", handlers.ToggleSessionCleanup(d))
		r.Post("/api/rotate-api-key", handlers.RotateAPIKey(d))
	})
}
