// Package store defines the persistence ports used by the control plane.
// Implementations live in store/memory and store/redis.
package store

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

type Sessions interface {
	SaveSession(ctx context.Context, s domain.Session) error
	DeleteSession(ctx context.Context, token string) error
	LoadSessions(ctx context.Context) ([]domain.Session, error)
}

type Operations interface {
	SaveOperation(ctx context.Context, op *domain.Operation) error
	GetOperation(ctx context.Context, id string) (*domain.Operation, error)
	// ListOperations returns operations newest first. Empty serviceID lists all.
	ListOperations(ctx context.Context, serviceID string) ([]*domain.Operation, error)
}

type Backups interface {
	SaveBackup(ctx context.Context, rec domain.BackupRecord) error
	DeleteBackup(ctx context.Context, id string) error
	ListBackups(ctx context.Context) ([]domain.BackupRecord, error)
}

type Units interface {
	SaveUnitState(ctx context.Context, s domain.UnitState) error
	LoadUnitStates(ctx context.Context) (map[string]domain.UnitState, error)
}

type Slots interface {
	SaveSlots(ctx context.Context, p domain.SlotPair) error
	// LoadSlots returns ErrNotFound when no pointer was persisted yet.
	LoadSlots(ctx context.Context) (domain.SlotPair, error)
}

// Store groups every port. Both implementations satisfy it.
type Store interface {
	Sessions
	Operations
	Backups
	Units
	Slots
}
