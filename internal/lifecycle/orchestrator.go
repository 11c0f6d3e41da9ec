// Package lifecycle runs the mutating operations of the control plane:
// update, migrate, rollback, slot switch, stack backup, restart and
// uninstall. Each accepted request becomes an Operation executed by a
// background task; callers poll its status.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/audit"
	"github.com/MrSnakeDoc/stackpilot/internal/backup"
	"github.com/MrSnakeDoc/stackpilot/internal/capability"
	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/locks"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/registry"
	"github.com/MrSnakeDoc/stackpilot/internal/runtime"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// Authenticator validates session tokens.
type Authenticator interface {
	Validate(ctx context.Context, token string) (domain.Session, error)
}

// SlotSwitcher performs the whole-stack cutover under the stack lock.
type SlotSwitcher interface {
	Switch(ctx context.Context, opID string) (domain.SlotPair, error)
}

// Policy holds the tunable behaviour of operations.
type Policy struct {
	BackupBeforeUpdate  bool
	AutoRollback        bool
	Probe               runtime.ProbePolicy
	Retention           backup.Retention
	BackupParallelism   int
	UninstallConfirmTTL time.Duration
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		BackupBeforeUpdate:  true,
		AutoRollback:        true,
		Probe:               runtime.ProbePolicy{Attempts: 10, Interval: 3 * time.Second, Deadline: time.Minute},
		Retention:           backup.Retention{KeepLast: 5},
		BackupParallelism:   5,
		UninstallConfirmTTL: time.Minute,
	}
}

// Options wires an Orchestrator.
type Options struct {
	Auth         Authenticator
	Registry     *registry.Registry
	Backups      *backup.Store
	Capabilities *capability.Table
	Runtime      runtime.Adapter
	Slots        SlotSwitcher
	Locks        *locks.Table
	Operations   store.Operations
	Audit        audit.Recorder // optional
	Logger       logger.Logger
	Policy       Policy
	Now          func() time.Time
}

// Orchestrator owns the lock table and the running tasks.
type Orchestrator struct {
	opts Options

	mu        sync.Mutex
	tasks     map[string]chan struct{} // operation id -> closed when done
	uninstall *pendingUninstall
	wg        sync.WaitGroup
}

type pendingUninstall struct {
	token     string
	expiresAt time.Time
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Locks == nil {
		opts.Locks = locks.New()
	}
	if opts.Policy.BackupParallelism < 1 {
		opts.Policy.BackupParallelism = 1
	}
	return &Orchestrator{
		opts:  opts,
		tasks: make(map[string]chan struct{}),
	}
}

// Locks exposes the lock table shared with the slot manager.
func (o *Orchestrator) Locks() *locks.Table {
	return o.opts.Locks
}

// Get returns an operation by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Operation, error) {
	op, err := o.opts.Operations.GetOperation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &domain.NotFoundError{Kind: "operation", ID: id}
	}
	return op, err
}

// List returns operations newest first, optionally for one service.
func (o *Orchestrator) List(ctx context.Context, serviceID string) ([]*domain.Operation, error) {
	return o.opts.Operations.ListOperations(ctx, serviceID)
}

// InFlight returns the number of tasks not yet finished.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tasks)
}

// Wait blocks until the operation's task finished and released its lock.
// Unknown or already finished operations return immediately.
func (o *Orchestrator) Wait(ctx context.Context, opID string) error {
	o.mu.Lock()
	done, ok := o.tasks[opID]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown waits for every running task. Tasks are never interrupted.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) authorize(ctx context.Context, token string) (domain.Session, error) {
	return o.opts.Auth.Validate(ctx, token)
}

func (o *Orchestrator) record(ctx context.Context, e domain.AuditEntry) {
	if o.opts.Audit != nil {
		o.opts.Audit.Record(ctx, e)
	}
}
