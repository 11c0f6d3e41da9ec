package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/handlers"
)

func init() { Register(registerWebhook) }

func registerWebhook(r chi.Router, d deps.Deps, g Guards) {
	r.With(g.APIKey).Post("/api/watchtower", handlers.Watchtower(d))
}
