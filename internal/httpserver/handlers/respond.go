package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

const maxBodyBytes = 1 << 20

type apiResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	var (
		authErr    *domain.AuthError
		conflict   *domain.ConflictError
		notFound   *domain.NotFoundError
		validation *domain.ValidationError
		confirm    *domain.ConfirmationError
	)
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &notFound), errors.Is(err, domain.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &confirm):
		return http.StatusPreconditionRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err into a JSON error response. Unexpected errors
// are logged and their text is not leaked.
func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	status, msg := publicError(log, err)
	writeJSON(w, status, errorResponse{Error: msg})
}

func publicError(log logger.Logger, err error) (int, string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", logger.Error(err))
		return status, http.StatusText(status)
	}
	return status, err.Error()
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// serviceParam sanitizes a service id taken from user input.
func serviceParam(raw string) (string, error) {
	id := domain.SanitizeServiceID(raw)
	if id == "" {
		return "", &domain.ValidationError{Field: "service", Reason: "invalid service name"}
	}
	return id, nil
}

func record(ctx context.Context, d deps.Deps, e domain.AuditEntry) {
	if d.Audit != nil {
		d.Audit.Record(ctx, e)
	}
}
