package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/mw"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

type serviceRequest struct {
	Service string `json:"service"`
}

func accepted(w http.ResponseWriter, op *domain.Operation, msg string) {
	writeJSON(w, http.StatusAccepted, apiResponse{Success: true, Message: msg, OperationID: op.ID})
}

// UpdateService starts an update of one unit.
func UpdateService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req serviceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		id, err := serviceParam(req.Service)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		op, err := d.Orchestrator.Update(r.Context(), mw.TokenFrom(r.Context()), id)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		accepted(w, op, fmt.Sprintf("update of %s started", id))
	}
}

type batchUpdateRequest struct {
	Services []string `json:"services"`
}

type batchItem struct {
	Service     string `json:"service"`
	OperationID string `json:"operation_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

type batchUpdateResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Results []batchItem `json:"results"`
}

// BatchUpdate starts one update per listed unit. Invalid names are
// dropped; each remaining unit gets its own operation or its own error.
func BatchUpdate(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchUpdateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		ids := make([]string, 0, len(req.Services))
		for _, raw := range req.Services {
			if id := domain.SanitizeServiceID(raw); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			writeError(w, d.Logger, &domain.ValidationError{Field: "services", Reason: "no valid services provided"})
			return
		}

		results, err := d.Orchestrator.BatchUpdate(r.Context(), mw.TokenFrom(r.Context()), ids)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		resp := batchUpdateResponse{Results: make([]batchItem, 0, len(results))}
		started := 0
		for _, res := range results {
			item := batchItem{Service: res.ServiceID}
			if res.Err != nil {
				_, item.Error = publicError(d.Logger, res.Err)
			} else {
				item.OperationID = res.Operation.ID
				started++
			}
			resp.Results = append(resp.Results, item)
		}
		resp.Message = fmt.Sprintf("batch update started for %d/%d services", started, len(results))

		status := http.StatusAccepted
		if started == 0 {
			status = http.StatusOK
		} else {
			resp.Success = true
		}
		writeJSON(w, status, resp)
	}
}

// Migrate starts a data migration. ?backup=no skips the snapshot.
func Migrate(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id, err := serviceParam(q.Get("service"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		withBackup := true
		switch q.Get("backup") {
		case "", "yes":
		case "no":
			withBackup = false
		default:
			writeError(w, d.Logger, &domain.ValidationError{Field: "backup", Reason: "must be yes or no"})
			return
		}

		op, err := d.Orchestrator.Migrate(r.Context(), mw.TokenFrom(r.Context()), id, withBackup)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		accepted(w, op, fmt.Sprintf("migration of %s started", id))
	}
}

type rollbackRequest struct {
	Service  string `json:"service"`
	BackupID string `json:"backup_id"`
}

// RollbackService restores a backup of a unit taken on an earlier version,
// the one named by backup_id or else the newest. Having no such backup is
// a normal answer, not an error status.
func RollbackService(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rollbackRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		id, err := serviceParam(req.Service)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		op, err := d.Orchestrator.Rollback(r.Context(), mw.TokenFrom(r.Context()), id, strings.TrimSpace(req.BackupID))
		if errors.Is(err, domain.ErrNoBackupAvailable) {
			writeJSON(w, http.StatusOK, apiResponse{Success: false, Message: err.Error()})
			return
		}
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		accepted(w, op, fmt.Sprintf("rollback of %s started", id))
	}
}

// RollbackStatus tells whether a rollback is possible right now.
func RollbackStatus(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := serviceParam(r.URL.Query().Get("service"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, d.Orchestrator.RollbackStatus(id))
	}
}

type backupsResponse struct {
	Backups []domain.BackupRecord `json:"backups"`
}

// ListBackups lists backup records newest first, optionally for one unit.
func ListBackups(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if raw := r.URL.Query().Get("service"); raw != "" {
			var err error
			if id, err = serviceParam(raw); err != nil {
				writeError(w, d.Logger, err)
				return
			}
		}
		recs := d.Backups.List(id)
		if recs == nil {
			recs = []domain.BackupRecord{}
		}
		writeJSON(w, http.StatusOK, backupsResponse{Backups: recs})
	}
}

// BackupStack starts a backup of every unit.
func BackupStack(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, err := d.Orchestrator.BackupStack(r.Context(), mw.TokenFrom(r.Context()))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		accepted(w, op, "stack backup started")
	}
}

type switchSlotResponse struct {
	Success     bool          `json:"success"`
	ActiveSlot  domain.SlotID `json:"activeSlot"`
	OperationID string        `json:"operation_id,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// SwitchSlot flips the active slot and answers once the cutover is done.
func SwitchSlot(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, pair, err := d.Orchestrator.SwitchSlot(r.Context(), mw.TokenFrom(r.Context()))
		if err != nil && op == nil {
			writeError(w, d.Logger, err)
			return
		}
		if err != nil {
			d.Logger.Warn("slot switch failed", logger.OperationID(op.ID), logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, switchSlotResponse{
				ActiveSlot:  d.Slots.Active().ID,
				OperationID: op.ID,
				Error:       op.ResultMessage,
			})
			return
		}
		writeJSON(w, http.StatusOK, switchSlotResponse{
			Success:     true,
			ActiveSlot:  pair.Active.ID,
			OperationID: op.ID,
		})
	}
}

type slotsResponse struct {
	Active domain.SlotID `json:"active"`
	Slots  []domain.Slot `json:"slots"`
}

// Slots returns both slots, A first.
func Slots(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pair := d.Slots.Pair()
		writeJSON(w, http.StatusOK, slotsResponse{Active: pair.Active.ID, Slots: pair.Slots()})
	}
}

// RestartStack restarts every container.
func RestartStack(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, err := d.Orchestrator.RestartStack(r.Context(), mw.TokenFrom(r.Context()))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		accepted(w, op, "stack restart started")
	}
}

type uninstallRequest struct {
	Confirm int `json:"confirm"`
}

type uninstallResponse struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
	OperationID string    `json:"operation_id,omitempty"`
}

// Uninstall runs the two-call teardown protocol.
func Uninstall(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req uninstallRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}

		res, err := d.Orchestrator.Uninstall(r.Context(), mw.TokenFrom(r.Context()), req.Confirm)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if res.Armed {
			writeJSON(w, http.StatusOK, uninstallResponse{
				Success:   true,
				Message:   "uninstall armed, confirm with confirm=2 before expiry",
				ExpiresAt: res.ExpiresAt,
			})
			return
		}
		writeJSON(w, http.StatusAccepted, uninstallResponse{
			Success:     true,
			Message:     "uninstall started",
			OperationID: res.Operation.ID,
		})
	}
}

// GetOperation returns one operation for status polling.
func GetOperation(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		op, err := d.Orchestrator.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, op)
	}
}

type operationsResponse struct {
	Operations []*domain.Operation `json:"operations"`
}

// ListOperations lists operations newest first, optionally for one unit.
func ListOperations(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if raw := r.URL.Query().Get("service"); raw != "" {
			var err error
			if id, err = serviceParam(raw); err != nil {
				writeError(w, d.Logger, err)
				return
			}
		}
		ops, err := d.Orchestrator.List(r.Context(), id)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		if ops == nil {
			ops = []*domain.Operation{}
		}
		writeJSON(w, http.StatusOK, operationsResponse{Operations: ops})
	}
}
