// Package slot maintains the two whole-stack deployment slots and performs
// the cutover between them.
package slot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/audit"
	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/locks"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/metrics"
	"github.com/MrSnakeDoc/stackpilot/internal/runtime"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// Options configures a Manager.
type Options struct {
	Locks   *locks.Table
	Runtime runtime.Adapter
	Store   store.Slots    // optional
	Audit   audit.Recorder // optional
	Logger  logger.Logger
	Now     func() time.Time

	// Initial is used when nothing was persisted yet.
	Initial domain.SlotPair
}

// Manager owns the active slot pointer. Readers always see a complete
// pair, so exactly one slot is active at any instant.
type Manager struct {
	opts    Options
	current atomic.Pointer[domain.SlotPair]
}

// DefaultPair returns A active and B standby.
func DefaultPair(aFile, aVersion, bFile, bVersion string) domain.SlotPair {
	return domain.SlotPair{
		Active:  domain.Slot{ID: domain.SlotA, Role: domain.RoleActive, ComposeFile: aFile, StackVersionRef: aVersion},
		Standby: domain.Slot{ID: domain.SlotB, Role: domain.RoleStandby, ComposeFile: bFile, StackVersionRef: bVersion},
	}
}

// New creates a Manager holding opts.Initial until Load is called.
func New(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Initial.Active.ID == "" {
		opts.Initial = DefaultPair("", "", "", "")
	}
	m := &Manager{opts: opts}
	initial := opts.Initial
	m.current.Store(&initial)
	return m
}

// Load restores the persisted pointer. Compose files always come from
// the configured initial pair so a changed path takes effect on restart.
func (m *Manager) Load(ctx context.Context) (domain.SlotPair, error) {
	if m.opts.Store == nil {
		return m.Pair(), nil
	}
	p, err := m.opts.Store.LoadSlots(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return m.Pair(), nil
	}
	if err != nil {
		return m.Pair(), fmt.Errorf("failed to load slots: %w", err)
	}

	files := map[domain.SlotID]string{
		m.opts.Initial.Active.ID:  m.opts.Initial.Active.ComposeFile,
		m.opts.Initial.Standby.ID: m.opts.Initial.Standby.ComposeFile,
	}
	p.Active.ComposeFile = files[p.Active.ID]
	p.Standby.ComposeFile = files[p.Standby.ID]
	m.current.Store(&p)

	m.opts.Logger.Info("slots restored", logger.String("active", string(p.Active.ID)))
	return p, nil
}

// Pair returns both slots.
func (m *Manager) Pair() domain.SlotPair {
	return *m.current.Load()
}

// Active returns the active slot.
func (m *Manager) Active() domain.Slot {
	return m.current.Load().Active
}

// Slots returns both slots ordered A then B.
func (m *Manager) Slots() []domain.Slot {
	return m.current.Load().Slots()
}

// Switch makes the standby slot active. It takes the stack lock for opID
// and fails with a ConflictError while any other operation holds a lock.
// Nothing visible changes unless every step succeeds.
func (m *Manager) Switch(ctx context.Context, opID string) (pair domain.SlotPair, err error) {
	if err := m.opts.Locks.TryStack(opID); err != nil {
		metrics.SlotSwitchesTotal.WithLabelValues("conflict").Inc()
		return m.Pair(), err
	}
	defer m.opts.Locks.ReleaseStack(opID)

	cur := m.Pair()
	defer func() {
		m.record(ctx, opID, cur, pair, err)
	}()

	if err := m.opts.Runtime.ValidateStack(ctx, cur.Standby); err != nil {
		return cur, fmt.Errorf("standby slot %s failed validation: %w", cur.Standby.ID, err)
	}

	next := cur.Swapped(m.opts.Now())
	if err := m.opts.Runtime.RouteTraffic(ctx, next.Active); err != nil {
		m.revertRoute(ctx, cur)
		return cur, fmt.Errorf("failed to route traffic to slot %s: %w", next.Active.ID, err)
	}
	if m.opts.Store != nil {
		if err := m.opts.Store.SaveSlots(ctx, next); err != nil {
			m.revertRoute(ctx, cur)
			return cur, fmt.Errorf("failed to persist active slot: %w", err)
		}
	}

	m.current.Store(&next)
	return next, nil
}

func (m *Manager) revertRoute(ctx context.Context, cur domain.SlotPair) {
	if err := m.opts.Runtime.RouteTraffic(ctx, cur.Active); err != nil {
		m.opts.Logger.Error("failed to restore traffic route",
			logger.Slot(string(cur.Active.ID)),
			logger.Error(err))
	}
}

func (m *Manager) record(ctx context.Context, opID string, from, to domain.SlotPair, err error) {
	metrics.SlotSwitchesTotal.WithLabelValues(metrics.Result(err)).Inc()

	e := domain.AuditEntry{
		Category:    domain.CategorySlot,
		Action:      "switch-slot",
		OperationID: opID,
	}
	if err != nil {
		e.Level = domain.LevelError
		e.Outcome = "failed"
		e.Message = err.Error()
		m.opts.Logger.Warn("slot switch aborted",
			logger.OperationID(opID),
			logger.String("active", string(from.Active.ID)),
			logger.Error(err))
	} else {
		e.Outcome = "success"
		e.Message = fmt.Sprintf("active slot %s -> %s (%s)", from.Active.ID, to.Active.ID, to.Active.StackVersionRef)
		m.opts.Logger.Info("slot switched",
			logger.OperationID(opID),
			logger.String("active", string(to.Active.ID)))
	}
	if m.opts.Audit != nil {
		m.opts.Audit.Record(ctx, e)
	}
}
