package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

type watchtowerUpdate struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

type watchtowerPayload struct {
	Updates []watchtowerUpdate `json:"updates"`
}

// Watchtower receives image watcher notifications. JSON payloads mark
// new versions as available; anything else is only logged.
func Watchtower(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, d.Logger, &domain.ValidationError{Field: "body", Reason: "too large"})
			return
		}

		var payload watchtowerPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			d.Logger.Info("watchtower notification received",
				logger.String("body", truncate(string(body), 512)))
			record(r.Context(), d, domain.AuditEntry{
				Level:    domain.LevelInfo,
				Category: domain.CategoryWebhook,
				Action:   "watchtower",
				Actor:    "api-key",
				Outcome:  "success",
				Message:  "notification received",
			})
			writeJSON(w, http.StatusOK, apiResponse{Success: true})
			return
		}

		marked := 0
		for _, u := range payload.Updates {
			id := domain.SanitizeServiceID(u.Service)
			if id == "" || u.Version == "" {
				continue
			}
			if err := d.Registry.MarkAvailable(r.Context(), id, u.Version); err != nil {
				d.Logger.Warn("ignoring update for unknown service",
					logger.ServiceID(id), logger.Error(err))
				continue
			}
			marked++
		}

		record(r.Context(), d, domain.AuditEntry{
			Level:    domain.LevelInfo,
			Category: domain.CategoryWebhook,
			Action:   "watchtower",
			Actor:    "api-key",
			Outcome:  "success",
			Message:  fmt.Sprintf("%d update(s) marked available", marked),
		})
		writeJSON(w, http.StatusOK, apiResponse{Success: true})
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
