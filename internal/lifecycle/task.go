package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/metrics"
)

// work is the body of a task. It returns the success message, or an error
// whose text becomes the failure message.
type work func(ctx context.Context, op *domain.Operation) (string, error)

// task describes an operation about to be submitted.
type task struct {
	kind      domain.OperationKind
	serviceID string // empty takes the stack lock
	session   domain.Session
	run       work
	// cleanup runs after the task finished, or when submission failed.
	cleanup func()
}

// submit takes the lock, persists the Pending operation and starts the
// task. It returns a snapshot of the operation without waiting.
func (o *Orchestrator) submit(ctx context.Context, t task) (*domain.Operation, error) {
	op := &domain.Operation{
		ID:          uuid.NewString(),
		ServiceID:   t.serviceID,
		Kind:        t.kind,
		RequestedBy: t.session.Fingerprint(),
		Status:      domain.StatusPending,
		CreatedAt:   o.opts.Now(),
	}

	if err := o.acquire(op); err != nil {
		metrics.ConflictsTotal.WithLabelValues(string(t.kind)).Inc()
		o.record(ctx, domain.AuditEntry{
			Level:     domain.LevelWarn,
			Category:  category(t.kind),
			Action:    string(t.kind),
			Actor:     op.RequestedBy,
			ServiceID: t.serviceID,
			Outcome:   "conflict",
			Message:   err.Error(),
		})
		if t.cleanup != nil {
			t.cleanup()
		}
		return nil, err
	}

	if err := o.opts.Operations.SaveOperation(ctx, op); err != nil {
		o.release(op)
		if t.cleanup != nil {
			t.cleanup()
		}
		return nil, fmt.Errorf("failed to persist operation: %w", err)
	}

	done := make(chan struct{})
	o.mu.Lock()
	o.tasks[op.ID] = done
	o.mu.Unlock()
	metrics.OperationsInFlight.Inc()

	o.record(ctx, domain.AuditEntry{
		Category:    category(t.kind),
		Action:      string(t.kind),
		Actor:       op.RequestedBy,
		ServiceID:   op.ServiceID,
		OperationID: op.ID,
		Outcome:     "accepted",
		Message:     fmt.Sprintf("%s accepted", describe(op)),
	})

	snapshot := op.Clone()
	o.wg.Add(1)
	// The task outlives the request that started it.
	go o.execute(context.WithoutCancel(ctx), op, t, done)
	return snapshot, nil
}

func (o *Orchestrator) acquire(op *domain.Operation) error {
	if op.ServiceID == "" {
		return o.opts.Locks.TryStack(op.ID)
	}
	return o.opts.Locks.TryService(op.ServiceID, op.ID)
}

func (o *Orchestrator) release(op *domain.Operation) {
	if op.ServiceID == "" {
		o.opts.Locks.ReleaseStack(op.ID)
		return
	}
	o.opts.Locks.ReleaseService(op.ServiceID, op.ID)
}

// execute runs the task and always publishes a terminal status before the
// lock is released, whatever happens inside run.
func (o *Orchestrator) execute(ctx context.Context, op *domain.Operation, t task, done chan struct{}) {
	log := o.opts.Logger.With(logger.OperationID(op.ID), logger.Kind(string(op.Kind)), logger.ServiceID(op.ServiceID))

	defer func() {
		o.release(op)
		if t.cleanup != nil {
			t.cleanup()
		}
		o.mu.Lock()
		delete(o.tasks, op.ID)
		o.mu.Unlock()
		metrics.OperationsInFlight.Dec()
		close(done)
		o.wg.Done()
	}()

	if err := op.Transition(domain.StatusRunning, "", o.opts.Now()); err != nil {
		log.Error("operation could not start", logger.Error(err))
		return
	}
	o.save(ctx, op, log)
	log.Info("operation started")

	msg, err := o.safeRun(ctx, op, t.run)

	status := domain.StatusSucceeded
	level := domain.LevelInfo
	outcome := "success"
	if err != nil {
		status, level, outcome = domain.StatusFailed, domain.LevelError, "failed"
		msg = err.Error()
	}
	if terr := op.Transition(status, msg, o.opts.Now()); terr != nil {
		log.Error("invalid terminal transition", logger.Error(terr))
	}
	o.save(ctx, op, log)
	metrics.ObserveOperation(string(op.Kind), string(op.Status), op.StartedAt)

	o.record(ctx, domain.AuditEntry{
		Level:       level,
		Category:    category(op.Kind),
		Action:      string(op.Kind),
		Actor:       op.RequestedBy,
		ServiceID:   op.ServiceID,
		OperationID: op.ID,
		Outcome:     outcome,
		Message:     op.ResultMessage,
	})
	if err != nil {
		log.Warn("operation failed", logger.String("message", op.ResultMessage))
	} else {
		log.Info("operation succeeded",
			logger.String("message", op.ResultMessage),
			logger.Duration("elapsed", op.FinishedAt.Sub(op.StartedAt)))
	}
}

func (o *Orchestrator) safeRun(ctx context.Context, op *domain.Operation, run work) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.opts.Logger.Error("operation panicked",
				logger.OperationID(op.ID),
				logger.String("panic", fmt.Sprint(r)))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return run(ctx, op)
}

// transition moves an inline operation on and logs a rejected move.
func (o *Orchestrator) transition(op *domain.Operation, to domain.OperationStatus, msg string) {
	if err := op.Transition(to, msg, o.opts.Now()); err != nil {
		o.opts.Logger.Error("invalid operation transition",
			logger.OperationID(op.ID),
			logger.Kind(string(op.Kind)),
			logger.String("to", string(to)),
			logger.Error(err))
	}
}

// save persists op. A store failure is logged; the in-memory task keeps
// running and the next save retries.
func (o *Orchestrator) save(ctx context.Context, op *domain.Operation, log logger.Logger) {
	for attempt := 0; attempt < 3; attempt++ {
		err := o.opts.Operations.SaveOperation(ctx, op)
		if err == nil {
			return
		}
		log.Warn("failed to persist operation", logger.Int("attempt", attempt+1), logger.Error(err))
		time.Sleep(50 * time.Millisecond)
	}
}

func category(kind domain.OperationKind) string {
	switch kind {
	case domain.KindBackup:
		return domain.CategoryBackup
	case domain.KindSlotSwitch:
		return domain.CategorySlot
	case domain.KindRestart, domain.KindUninstall:
		return domain.CategorySystem
	default:
		return domain.CategoryLifecycle
	}
}

func describe(op *domain.Operation) string {
	var b strings.Builder
	b.WriteString(string(op.Kind))
	if op.ServiceID != "" {
		b.WriteString(" of ")
		b.WriteString(op.ServiceID)
	}
	return b.String()
}
