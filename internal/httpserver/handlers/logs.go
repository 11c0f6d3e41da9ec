package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/stackpilot/internal/audit"
	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
)

type logsResponse struct {
	Logs []domain.AuditEntry `json:"logs"`
}

// Logs returns the most recent audit entries, oldest first.
func Logs(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		entries, err := d.Audit.Query(q.Get("level"), q.Get("category"), audit.DefaultQueryLimit)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if entries == nil {
			entries = []domain.AuditEntry{}
		}
		writeJSON(w, http.StatusOK, logsResponse{Logs: entries})
	}
}
