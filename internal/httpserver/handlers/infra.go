package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
)

type componentStatus struct {
	OK             bool   `json:"ok"`
	ServicesLoaded *int   `json:"services_loaded,omitempty"`
	LastReload     string `json:"last_reload,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Active         *int   `json:"active,omitempty"`
	Detail         string `json:"detail,omitempty"`
	Error          string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra summarizes the state of every internal component.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servicesCount := d.Registry.Count()
		lastReload := d.Registry.LastReload()
		lastReloadStr := "never"
		if !lastReload.IsZero() {
			lastReloadStr = lastReload.Format("2006-01-02 15:04:05")
		}

		sessions := d.Auth.Active()
		inFlight := d.Orchestrator.InFlight()
		lockedServices, stackLocked := d.Orchestrator.Locks().Held()
		locksDetail := "idle"
		if stackLocked != "" {
			locksDetail = "stack locked"
		} else if len(lockedServices) > 0 {
			locksDetail = "services locked"
		}

		components := map[string]componentStatus{
			"catalog": {
				OK:             servicesCount > 0,
				ServicesLoaded: &servicesCount,
				LastReload:     lastReloadStr,
			},
			"redis": checkRedis(r.Context(), d),
			"sessions": {
				OK:     true,
				Active: &sessions,
				Mode:   cleanupMode(d.Auth.IdleCleanup()),
			},
			"slots": {
				OK:     true,
				Detail: "active " + string(d.Slots.Active().ID),
			},
			"operations": {
				OK:     true,
				Active: &inFlight,
				Detail: locksDetail,
			},
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func cleanupMode(enabled bool) string {
	if enabled {
		return "idle-cleanup"
	}
	return "fixed-expiry"
}

func determineMode(components map[string]componentStatus) string {
	if catalog, ok := components["catalog"]; ok && !catalog.OK {
		return "critical"
	}
	if redis, ok := components["redis"]; ok && !redis.OK {
		return "degraded"
	}
	return "operational"
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{OK: true, Mode: "memory"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{OK: false, Mode: "redis", Error: "unreachable"}
	}
	return componentStatus{OK: true, Mode: "redis"}
}
