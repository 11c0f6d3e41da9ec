package domain

import "time"

// Audit levels.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Audit categories.
const (
	CategoryAuth      = "auth"
	CategoryLifecycle = "lifecycle"
	CategoryBackup    = "backup"
	CategorySlot      = "slot"
	CategorySystem    = "system"
	CategoryWebhook   = "webhook"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	Seq         uint64    `json:"seq"`
	Time        time.Time `json:"time"`
	Level       string    `json:"level"`
	Category    string    `json:"category"`
	Action      string    `json:"action"`
	Actor       string    `json:"actor,omitempty"`
	ServiceID   string    `json:"serviceId,omitempty"`
	OperationID string    `json:"operationId,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Message     string    `json:"message"`
}
