package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/handlers"
)

func init() { Register(registerOperations) }

func registerOperations(r chi.Router, d deps.Deps, g Guards) {
	r.Group(func(r chi.Router) {
		r.Use(g.Reader)
		r.Get("/api/rollback-status", handlers.RollbackStatus(d))
		r.Get("/api/backups", handlers.ListBackups(d))
		r.Get("/api/operations", handlers.ListOperations(d))
		r.Get("/api/operations/{id}", handlers.GetOperation(d))
		r.Get("/api/slots", handlers.Slots(d))
		r.Get("/api/logs", handlers.Logs(d))
	})

	// Mutations
	r.Group(func(r chi.Router) {
		r.Use(g.Session)
		r.Post("/api/update-service", handlers.UpdateService(d))
		r.Post("/api/batch-update", handlers.BatchUpdate(d))
		r.Post("/api/migrate", handlers.Migrate(d))
		r.Post("/api/rollback-service", handlers.RollbackService(d))
		r.Post("/api/backup", handlers.BackupStack(d))
		r.Post("/api/switch-slot", handlers.SwitchSlot(d))
		r.Post("/api/restart-stack", handlers.RestartStack(d))
		r.Post("/api/uninstall", handlers.Uninstall(d))
	})
}
