package handlers

import (
	"fmt"
	"net/http"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/mw"
)

type serviceView struct {
	domain.ServiceUnit
	EffectiveStrategy domain.Strategy `json:"effectiveStrategy"`
	UpdateAvailable   bool            `json:"updateAvailable"`
}

type servicesResponse struct {
	Services []serviceView `json:"services"`
}

// Services lists the units in deployment order.
func Services(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		units := d.Registry.List()
		out := make([]serviceView, 0, len(units))
		for _, u := range units {
			out = append(out, serviceView{
				ServiceUnit:       u,
				EffectiveStrategy: u.EffectiveStrategy(),
				UpdateAvailable:   u.UpdateAvailable(),
			})
		}
		writeJSON(w, http.StatusOK, servicesResponse{Services: out})
	}
}

type strategyRequest struct {
	Service  string `json:"service"`
	Strategy string `json:"strategy"`
	Version  string `json:"version"`
}

// SetStrategy changes how the next update of a unit picks its version.
func SetStrategy(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req strategyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		id, err := serviceParam(req.Service)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		strategy, err := domain.ParseStrategy(req.Strategy)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		if err := d.Registry.SetStrategy(r.Context(), id, strategy, req.Version); err != nil {
			writeError(w, d.Logger, err)
			return
		}

		msg := fmt.Sprintf("%s strategy set to %s", id, strategy)
		if strategy == domain.StrategyPinned {
			msg += " (" + req.Version + ")"
		}
		record(r.Context(), d, domain.AuditEntry{
			Category:  domain.CategoryLifecycle,
			Action:    "set-strategy",
			Actor:     domain.Fingerprint(mw.TokenFrom(r.Context())),
			ServiceID: id,
			Outcome:   "success",
			Message:   msg,
		})
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: msg})
	}
}

type updatesResponse struct {
	Updates map[string]string `json:"updates"`
}

// Updates reports units for which a newer image was detected.
func Updates(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]string)
		for id, available := range d.Registry.Updates() {
			if available {
				out[id] = "Update available"
			}
		}
		writeJSON(w, http.StatusOK, updatesResponse{Updates: out})
	}
}
