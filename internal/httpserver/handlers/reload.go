package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

// Reload triggers an immediate catalog reload.
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case d.ReloadTrigger <- struct{}{}:
			d.Logger.Info("manual catalog reload triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusAccepted, apiResponse{Success: true, Message: "reload triggered"})
		default:
			d.Logger.Warn("catalog reload already in progress",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusTooManyRequests, apiResponse{Message: "reload already in progress"})
		}
	}
}
