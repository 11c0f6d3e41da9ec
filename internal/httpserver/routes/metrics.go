package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/metrics"
)

func init() { Register(registerMetrics) }

func registerMetrics(r chi.Router, _ deps.Deps, g Guards) {
	r.With(g.Restricted).Handle("/metrics", metrics.Handler())
}
