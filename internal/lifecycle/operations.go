package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/metrics"
	"github.com/MrSnakeDoc/stackpilot/internal/runtime"
)

// Update redeploys serviceID on the version its strategy resolves to.
// With backup-before-update on, a failed snapshot aborts before anything
// is touched. A failed deploy or health probe restores that snapshot when
// auto-rollback is on; the operation still reports Failed.
func (o *Orchestrator) Update(ctx context.Context, token, serviceID string) (*domain.Operation, error) {
	sess, err := o.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := o.opts.Registry.Get(serviceID); err != nil {
		return nil, err
	}
	return o.submit(ctx, task{
		kind:      domain.KindUpdate,
		serviceID: serviceID,
		session:   sess,
		run:       o.runUpdate,
	})
}

// BatchResult is the submission outcome for one unit of a batch update.
type BatchResult struct {
	ServiceID string            `json:"service"`
	Operation *domain.Operation `json:"operation,omitempty"`
	Err       error             `json:"-"`
}

// BatchUpdate submits one update per unit. Each unit is locked on its own,
// so a conflict or an unknown unit is reported in its result and does not
// stop the others. Duplicate ids are submitted once.
func (o *Orchestrator) BatchUpdate(ctx context.Context, token string, serviceIDs []string) ([]BatchResult, error) {
	if _, err := o.authorize(ctx, token); err != nil {
		return nil, err
	}
	if len(serviceIDs) == 0 {
		return nil, &domain.ValidationError{Field: "services", Reason: "at least one service is required"}
	}

	seen := make(map[string]struct{}, len(serviceIDs))
	results := make([]BatchResult, 0, len(serviceIDs))
	for _, id := range serviceIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		op, err := o.Update(ctx, token, id)
		results = append(results, BatchResult{ServiceID: id, Operation: op, Err: err})
	}
	o.opts.Logger.Info("batch update submitted", logger.Int("services", len(results)))
	return results, nil
}

func (o *Orchestrator) runUpdate(ctx context.Context, op *domain.Operation) (string, error) {
	// Read under the lock so a strategy change made while queued is honoured.
	unit, err := o.opts.Registry.Get(op.ServiceID)
	if err != nil {
		return "", err
	}
	target, err := unit.TargetVersion()
	if err != nil {
		return "", err
	}
	op.TargetVersion = target

	procs, err := o.opts.Capabilities.For(unit)
	if err != nil {
		return "", err
	}

	var snapshot *domain.BackupRecord
	if o.opts.Policy.BackupBeforeUpdate {
		rec, err := o.opts.Backups.CreateBackup(ctx, unit.ID)
		if err != nil {
			return "", fmt.Errorf("BackupFailed: %w", err)
		}
		o.opts.Backups.Pin(rec.ID)
		defer o.opts.Backups.Unpin(rec.ID)
		snapshot = &rec
		op.BackupID = rec.ID
	}

	err = procs.Update(ctx, unit, target)
	if err == nil {
		err = runtime.ProbeUntilHealthy(ctx, o.opts.Runtime, unit, o.opts.Policy.Probe, o.opts.Logger)
	}
	if err != nil {
		if snapshot == nil || !o.opts.Policy.AutoRollback {
			return "", fmt.Errorf("update to %s failed: %w", target, err)
		}
		if _, rerr := o.opts.Backups.RestoreBackup(ctx, snapshot.ID); rerr != nil {
			return "", fmt.Errorf("update to %s failed: %v; automatic rollback to %s failed: %v",
				target, err, snapshot.SourceVersionRef, rerr)
		}
		return "", fmt.Errorf("update to %s failed: %v; automatically rolled back to %s",
			target, err, snapshot.SourceVersionRef)
	}

	if err := o.opts.Registry.RecordVersion(ctx, unit.ID, target); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s updated from %s to %s", unit.ID, unit.CurrentVersionRef, target), nil
}

// Migrate runs the unit's data migration in place, optionally after a
// snapshot. The running version never changes.
func (o *Orchestrator) Migrate(ctx context.Context, token, serviceID string, withBackup bool) (*domain.Operation, error) {
	sess, err := o.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := o.opts.Registry.Get(serviceID); err != nil {
		return nil, err
	}
	return o.submit(ctx, task{
		kind:      domain.KindMigrate,
		serviceID: serviceID,
		session:   sess,
		run: func(ctx context.Context, op *domain.Operation) (string, error) {
			return o.runMigrate(ctx, op, withBackup)
		},
	})
}

func (o *Orchestrator) runMigrate(ctx context.Context, op *domain.Operation, withBackup bool) (string, error) {
	unit, err := o.opts.Registry.Get(op.ServiceID)
	if err != nil {
		return "", err
	}
	procs, err := o.opts.Capabilities.For(unit)
	if err != nil {
		return "", err
	}

	if withBackup {
		rec, err := o.opts.Backups.CreateBackup(ctx, unit.ID)
		if err != nil {
			return "", fmt.Errorf("BackupFailed: %w", err)
		}
		op.BackupID = rec.ID
	}

	if err := procs.Migrate(ctx, unit); err != nil {
		if op.BackupID != "" {
			return "", fmt.Errorf("migration failed: %w (backup %s available for rollback)", err, op.BackupID)
		}
		return "", fmt.Errorf("migration failed: %w", err)
	}
	return fmt.Sprintf("%s migrated", unit.ID), nil
}

// Rollback restores a backup of serviceID taken on an earlier version:
// backupID when given, otherwise the newest such backup. Having none is
// reported as a RollbackError before any operation is created. A failed
// restore is not retried.
func (o *Orchestrator) Rollback(ctx context.Context, token, serviceID, backupID string) (*domain.Operation, error) {
	sess, err := o.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	unit, err := o.opts.Registry.Get(serviceID)
	if err != nil {
		return nil, err
	}

	rec, err := o.opts.Backups.AcquireForRollback(serviceID, unit.CurrentVersionRef, backupID)
	if err != nil {
		return nil, err
	}
	return o.submit(ctx, task{
		kind:      domain.KindRollback,
		serviceID: serviceID,
		session:   sess,
		cleanup:   func() { o.opts.Backups.Unpin(rec.ID) },
		run: func(ctx context.Context, op *domain.Operation) (string, error) {
			op.BackupID = rec.ID
			op.TargetVersion = rec.SourceVersionRef

			// An update may have landed on this version while we queued.
			unit, err := o.opts.Registry.Get(serviceID)
			if err != nil {
				return "", err
			}
			if unit.CurrentVersionRef == rec.SourceVersionRef {
				return "", &domain.RollbackError{ServiceID: serviceID, BackupID: rec.ID}
			}

			if _, err := o.opts.Backups.RestoreBackup(ctx, rec.ID); err != nil {
				return "", fmt.Errorf("rollback failed, manual intervention required: %w", err)
			}
			if err := o.opts.Registry.RecordRestore(ctx, serviceID, rec.SourceVersionRef); err != nil {
				return "", err
			}
			return fmt.Sprintf("%s rolled back from %s to %s (backup %s)", serviceID, unit.CurrentVersionRef,
				rec.SourceVersionRef, rec.CreatedAt.UTC().Format(time.RFC3339)), nil
		},
	})
}

// RollbackStatus describes whether a rollback could run right now.
type RollbackStatus struct {
	Available        bool      `json:"available"`
	BackupID         string    `json:"backupId,omitempty"`
	LastBackupAt     time.Time `json:"lastBackupAt,omitempty"`
	SourceVersionRef string    `json:"sourceVersionRef,omitempty"`
}

// RollbackStatus reports the backup Rollback would pick for serviceID. It
// has no side effects.
func (o *Orchestrator) RollbackStatus(serviceID string) RollbackStatus {
	unit, err := o.opts.Registry.Get(serviceID)
	if err != nil {
		return RollbackStatus{}
	}
	rec, ok := o.opts.Backups.LatestEligible(serviceID, unit.CurrentVersionRef)
	if !ok {
		return RollbackStatus{}
	}
	return RollbackStatus{
		Available:        true,
		BackupID:         rec.ID,
		LastBackupAt:     rec.CreatedAt,
		SourceVersionRef: rec.SourceVersionRef,
	}
}

// SwitchSlot cuts the stack over to the standby slot. It runs inline and
// returns the resulting pair; a conflict leaves no operation behind.
func (o *Orchestrator) SwitchSlot(ctx context.Context, token string) (*domain.Operation, domain.SlotPair, error) {
	sess, err := o.authorize(ctx, token)
	if err != nil {
		return nil, domain.SlotPair{}, err
	}

	op := &domain.Operation{
		ID:          uuid.NewString(),
		Kind:        domain.KindSlotSwitch,
		RequestedBy: sess.Fingerprint(),
		Status:      domain.StatusPending,
		CreatedAt:   o.opts.Now(),
	}
	o.transition(op, domain.StatusRunning, "")

	pair, err := o.opts.Slots.Switch(context.WithoutCancel(ctx), op.ID)
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		metrics.ConflictsTotal.WithLabelValues(string(domain.KindSlotSwitch)).Inc()
		return nil, pair, err
	}

	if err != nil {
		o.transition(op, domain.StatusFailed, err.Error())
	} else {
		o.transition(op, domain.StatusSucceeded, fmt.Sprintf("slot %s active", pair.Active.ID))
	}
	o.save(ctx, op, o.opts.Logger)
	metrics.ObserveOperation(string(op.Kind), string(op.Status), op.StartedAt)
	return op.Clone(), pair, err
}

// BackupStack snapshots every unit with bounded parallelism, then prunes
// expired backups.
func (o *Orchestrator) BackupStack(ctx context.Context, token string) (*domain.Operation, error) {
	sess, err := o.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	return o.submit(ctx, task{
		kind:    domain.KindBackup,
		session: sess,
		run:     o.runBackupStack,
	})
}

func (o *Orchestrator) runBackupStack(ctx context.Context, _ *domain.Operation) (string, error) {
	units := o.opts.Registry.List()

	var (
		mu       sync.Mutex
		failures []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Policy.BackupParallelism)
	for _, u := range units {
		g.Go(func() error {
			if _, err := o.opts.Backups.CreateBackup(gctx, u.ID); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", u.ID, err))
				mu.Unlock()
			}
			// One unit failing must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	pruned := o.opts.Backups.Prune(ctx, o.opts.Policy.Retention)
	ok := len(units) - len(failures)
	if len(failures) > 0 {
		return "", fmt.Errorf("backed up %d/%d services (pruned %d); failures: %s",
			ok, len(units), pruned, strings.Join(failures, "; "))
	}
	return fmt.Sprintf("backed up %d services, pruned %d old backups", ok, pruned), nil
}

// RestartStack restarts every container of the stack.
func (o *Orchestrator) RestartStack(ctx context.Context, token string) (*domain.Operation, error) {
	sess, err := o.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	return o.submit(ctx, task{
		kind:    domain.KindRestart,
		session: sess,
		run: func(ctx context.Context, _ *domain.Operation) (string, error) {
			if err := o.opts.Runtime.RestartAll(ctx); err != nil {
				return "", err
			}
			return "stack restarted", nil
		},
	})
}

// UninstallResult is the outcome of one uninstall confirmation step.
type UninstallResult struct {
	// Armed is true after the first step; ExpiresAt bounds the second.
	Armed     bool              `json:"armed"`
	ExpiresAt time.Time         `json:"expiresAt,omitempty"`
	Operation *domain.Operation `json:"operation,omitempty"`
}

// Uninstall implements the two-step teardown. Step 1 arms a short-lived
// confirmation bound to the session; step 2 from the same session within
// the window tears the stack down and deletes all persisted state.
func (o *Orchestrator) Uninstall(ctx context.Context, token string, step int) (UninstallResult, error) {
	sess, err := o.authorize(ctx, token)
	if err != nil {
		return UninstallResult{}, err
	}
	now := o.opts.Now()

	switch step {
	case 1:
		expires := now.Add(o.opts.Policy.UninstallConfirmTTL)
		o.mu.Lock()
		o.uninstall = &pendingUninstall{token: token, expiresAt: expires}
		o.mu.Unlock()

		o.record(ctx, domain.AuditEntry{
			Level:    domain.LevelWarn,
			Category: domain.CategorySystem,
			Action:   string(domain.KindUninstall),
			Actor:    sess.Fingerprint(),
			Outcome:  "armed",
			Message:  "uninstall requested, awaiting confirmation",
		})
		return UninstallResult{Armed: true, ExpiresAt: expires}, nil

	case 2:
		o.mu.Lock()
		pending := o.uninstall
		valid := pending != nil && pending.token == token && now.Before(pending.expiresAt)
		o.mu.Unlock()

		if !valid {
			reason := "no pending uninstall request"
			if pending != nil && pending.token != token {
				reason = "uninstall was requested by another session"
			} else if pending != nil {
				reason = "confirmation window expired"
			}
			return UninstallResult{}, &domain.ConfirmationError{Reason: reason}
		}

		op, err := o.submit(ctx, task{
			kind:    domain.KindUninstall,
			session: sess,
			run:     o.runUninstall,
		})
		if err != nil {
			// The confirmation stays armed until it expires.
			return UninstallResult{}, err
		}

		o.mu.Lock()
		if o.uninstall == pending {
			o.uninstall = nil
		}
		o.mu.Unlock()
		return UninstallResult{Operation: op}, nil

	default:
		return UninstallResult{}, &domain.ValidationError{Field: "confirm", Reason: "must be 1 or 2"}
	}
}

func (o *Orchestrator) runUninstall(ctx context.Context, _ *domain.Operation) (string, error) {
	if err := o.opts.Runtime.TeardownAll(ctx); err != nil {
		return "", err
	}

	var errs []error
	for _, u := range o.opts.Registry.List() {
		if u.StateDir == "" {
			continue
		}
		if err := os.RemoveAll(u.StateDir); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.ID, err))
		}
	}
	if err := o.opts.Backups.RemoveAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return "", fmt.Errorf("stack removed but state cleanup failed: %w", err)
	}

	o.opts.Logger.Warn("stack uninstalled", logger.Int("services", o.opts.Registry.Count()))
	return "stack uninstalled and state deleted", nil
}
