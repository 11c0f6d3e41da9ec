package domain

import (
	"fmt"
	"time"
)

// OperationKind names a mutating lifecycle action.
type OperationKind string

const (
	KindUpdate     OperationKind = "update"
	KindMigrate    OperationKind = "migrate"
	KindRollback   OperationKind = "rollback"
	KindSlotSwitch OperationKind = "slot-switch"
	KindBackup     OperationKind = "backup"
	KindRestart    OperationKind = "restart"
	KindUninstall  OperationKind = "uninstall"
)

// OperationStatus is the lifecycle state of an Operation.
type OperationStatus string

const (
	StatusPending   OperationStatus = "Pending"
	StatusRunning   OperationStatus = "Running"
	StatusSucceeded OperationStatus = "Succeeded"
	StatusFailed    OperationStatus = "Failed"
)

// Terminal reports whether no further transition is allowed.
func (s OperationStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Operation tracks one mutating action from acceptance to a terminal state.
type Operation struct {
	ID            string          `json:"id"`
	ServiceID     string          `json:"serviceId,omitempty"` // empty for stack-wide operations
	Kind          OperationKind   `json:"kind"`
	RequestedBy   string          `json:"requestedBy"`
	Status        OperationStatus `json:"status"`
	ResultMessage string          `json:"resultMessage,omitempty"`
	BackupID      string          `json:"backupId,omitempty"`
	TargetVersion string          `json:"targetVersion,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     time.Time       `json:"startedAt,omitempty"`
	FinishedAt    time.Time       `json:"finishedAt,omitempty"`
}

// Transition moves the operation forward. Statuses only advance
// Pending -> Running -> Succeeded|Failed; Pending may fail directly.
func (o *Operation) Transition(next OperationStatus, msg string, now time.Time) error {
	if !validTransition(o.Status, next) {
		return fmt.Errorf("invalid operation transition %s -> %s", o.Status, next)
	}
	o.Status = next
	if msg != "" {
		o.ResultMessage = msg
	}
	switch next {
	case StatusRunning:
		o.StartedAt = now
	case StatusSucceeded, StatusFailed:
		o.FinishedAt = now
	}
	return nil
}

func validTransition(from, to OperationStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusSucceeded || to == StatusFailed
	default:
		return false
	}
}

// Clone returns a copy safe to hand out to readers.
func (o *Operation) Clone() *Operation {
	c := *o
	return &c
}
