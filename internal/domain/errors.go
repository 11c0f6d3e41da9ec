package domain

import "fmt"

// AuthReason qualifies an AuthError.
type AuthReason string

const (
	AuthInvalidCredentials AuthReason = "InvalidCredentials"
	AuthExpired            AuthReason = "Expired"
	AuthRevoked            AuthReason = "Revoked"
	AuthNotFound           AuthReason = "NotFound"
)

// AuthError is returned when a secret or a session token is rejected.
type AuthError struct {
	Reason AuthReason
}

func (e *AuthError) Error() string { return fmt.Sprintf("authorization failed: %s", e.Reason) }

// Is matches any AuthError when target has no reason, otherwise the same reason.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && (t.Reason == "" || t.Reason == e.Reason)
}

var (
	ErrAuth               = &AuthError{}
	ErrInvalidCredentials = &AuthError{Reason: AuthInvalidCredentials}
	ErrSessionExpired     = &AuthError{Reason: AuthExpired}
	ErrSessionRevoked     = &AuthError{Reason: AuthRevoked}
	ErrSessionNotFound    = &AuthError{Reason: AuthNotFound}
)

// ConflictError is returned when a lock is already held by another operation.
type ConflictError struct {
	Resource string // service id, or "stack"
	HeldBy   string // operation id holding the lock
}

func (e *ConflictError) Error() string {
	if e.HeldBy == "" {
		return fmt.Sprintf("operation already in progress on %s", e.Resource)
	}
	return fmt.Sprintf("operation %s already in progress on %s", e.HeldBy, e.Resource)
}

// NotFoundError is returned when a named entity does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

// BackupReason qualifies a BackupError.
type BackupReason string

const (
	BackupServiceUnavailable BackupReason = "ServiceUnavailable"
	BackupInsufficientSpace  BackupReason = "InsufficientSpace"
	BackupCorrupt            BackupReason = "Corrupt"
	BackupNotFound           BackupReason = "NotFound"
)

// BackupError is returned by backup creation and restore.
type BackupError struct {
	Reason   BackupReason
	BackupID string
	Err      error
}

func (e *BackupError) Error() string {
	msg := fmt.Sprintf("backup %s", e.Reason)
	if e.BackupID != "" {
		msg += " (" + e.BackupID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackupError) Unwrap() error { return e.Err }

func (e *BackupError) Is(target error) bool {
	t, ok := target.(*BackupError)
	return ok && (t.Reason == "" || t.Reason == e.Reason)
}

var (
	ErrBackup                   = &BackupError{}
	ErrBackupNotFound           = &BackupError{Reason: BackupNotFound}
	ErrBackupCorrupt            = &BackupError{Reason: BackupCorrupt}
	ErrBackupInsufficientSpace  = &BackupError{Reason: BackupInsufficientSpace}
	ErrBackupServiceUnavailable = &BackupError{Reason: BackupServiceUnavailable}
)

// RollbackError is returned when a rollback cannot be started: no backup
// of the unit was taken on a version other than the running one. BackupID
// is set when a specific backup was asked for.
type RollbackError struct {
	ServiceID string
	BackupID  string
}

func (e *RollbackError) Error() string {
	if e.BackupID != "" {
		return "backup " + e.BackupID + " was taken on the running version"
	}
	return "no backup available"
}

// ErrNoBackupAvailable matches any RollbackError.
var ErrNoBackupAvailable = &RollbackError{}

func (e *RollbackError) Is(target error) bool {
	_, ok := target.(*RollbackError)
	return ok
}

// RuntimeAdapterError wraps a failure of the container runtime.
type RuntimeAdapterError struct {
	Op        string
	ServiceID string
	Err       error
}

func (e *RuntimeAdapterError) Error() string {
	if e.ServiceID == "" {
		return fmt.Sprintf("runtime %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("runtime %s %s failed: %v", e.Op, e.ServiceID, e.Err)
}

func (e *RuntimeAdapterError) Unwrap() error { return e.Err }

// ConfirmationError is returned when a two-step confirmation is missing or stale.
type ConfirmationError struct {
	Reason string
}

func (e *ConfirmationError) Error() string { return "confirmation required: " + e.Reason }

// ValidationError is returned for malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }
