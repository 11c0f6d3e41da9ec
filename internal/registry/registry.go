// Package registry holds the catalog of service units in deployment order.
package registry

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// Registry provides ordered, concurrency-safe access to service units.
// Version fields are written back to the optional state store.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	units      map[string]*domain.ServiceUnit
	lastReload time.Time

	states store.Units
	logger logger.Logger
	now    func() time.Time
}

// New creates an empty registry. states may be nil.
func New(states store.Units, log logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		units:  make(map[string]*domain.ServiceUnit),
		states: states,
		logger: log,
		now:    time.Now,
	}
}

// Load replaces the catalog. Units already known keep their orchestrator
// owned fields; units seen for the first time pick up any persisted state.
func (r *Registry) Load(ctx context.Context, units []domain.ServiceUnit) error {
	var persisted map[string]domain.UnitState
	if r.states != nil {
		var err error
		persisted, err = r.states.LoadUnitStates(ctx)
		if err != nil {
			r.logger.Warn("failed to load persisted unit state", logger.Error(err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*domain.ServiceUnit, len(units))
	order := make([]string, 0, len(units))
	for _, u := range units {
		unit := clone(u)
		if existing, ok := r.units[u.ID]; ok {
			unit.Apply(existing.State())
		} else if s, ok := persisted[u.ID]; ok {
			unit.Apply(s)
		}
		next[u.ID] = &unit
		order = append(order, u.ID)
	}

	for id := range r.units {
		if _, ok := next[id]; !ok {
			r.logger.Info("service removed from catalog", logger.ServiceID(id))
		}
	}

	r.units = next
	r.order = order
	r.lastReload = r.now()
	return nil
}

// List returns copies of every unit in deployment order.
func (r *Registry) List() []domain.ServiceUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ServiceUnit, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, clone(*r.units[id]))
	}
	return out
}

// Get returns a copy of the unit, or a NotFoundError.
func (r *Registry) Get(id string) (domain.ServiceUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.units[id]
	if !ok {
		return domain.ServiceUnit{}, &domain.NotFoundError{Kind: "service", ID: id}
	}
	return clone(*u), nil
}

// SetStrategy changes the desired strategy. It is read by the next update
// only; an update already running keeps the target it resolved.
func (r *Registry) SetStrategy(ctx context.Context, id string, s domain.Strategy, pinned string) error {
	if s == domain.StrategyPinned && pinned == "" {
		return &domain.ValidationError{Field: "version", Reason: "required for pinned strategy"}
	}
	return r.mutate(ctx, id, func(u *domain.ServiceUnit) error {
		if len(u.AllowedStrategies) > 0 && !slices.Contains(u.AllowedStrategies, s) {
			return &domain.ValidationError{Field: "strategy", Reason: string(s) + " not allowed for " + id}
		}
		u.DesiredStrategy = s
		if s == domain.StrategyPinned {
			u.PinnedVersionRef = pinned
		}
		return nil
	})
}

// RecordVersion sets the running version after a successful update. The
// previous version becomes the last known good one.
func (r *Registry) RecordVersion(ctx context.Context, id, version string) error {
	return r.mutate(ctx, id, func(u *domain.ServiceUnit) error {
		if u.CurrentVersionRef == version {
			return nil
		}
		u.LastKnownGoodVersionRef = u.CurrentVersionRef
		u.CurrentVersionRef = version
		u.VersionChangedAt = r.now()
		return nil
	})
}

// RecordRestore sets the running version after a backup was restored.
// The restored version was healthy when the backup was taken, so it is
// also the last known good one.
func (r *Registry) RecordRestore(ctx context.Context, id, version string) error {
	return r.mutate(ctx, id, func(u *domain.ServiceUnit) error {
		if u.CurrentVersionRef != version {
			u.VersionChangedAt = r.now()
		}
		u.CurrentVersionRef = version
		u.LastKnownGoodVersionRef = version
		return nil
	})
}

// MarkAvailable records a version detected by the image watcher.
func (r *Registry) MarkAvailable(ctx context.Context, id, version string) error {
	return r.mutate(ctx, id, func(u *domain.ServiceUnit) error {
		u.AvailableVersionRef = version
		return nil
	})
}

// Updates reports, per unit, whether a newer version was detected.
func (r *Registry) Updates() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool, len(r.units))
	for id, u := range r.units {
		out[id] = u.UpdateAvailable()
	}
	return out
}

// Count returns the number of units.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// LastReload returns the time of the last Load.
func (r *Registry) LastReload() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastReload
}

func (r *Registry) mutate(ctx context.Context, id string, fn func(*domain.ServiceUnit) error) error {
	r.mu.Lock()
	u, ok := r.units[id]
	if !ok {
		r.mu.Unlock()
		return &domain.NotFoundError{Kind: "service", ID: id}
	}
	if err := fn(u); err != nil {
		r.mu.Unlock()
		return err
	}
	state := u.State()
	r.mu.Unlock()

	// Persistence is best effort, memory stays authoritative.
	if r.states != nil {
		if err := r.states.SaveUnitState(ctx, state); err != nil {
			r.logger.Warn("failed to persist unit state",
				logger.ServiceID(id),
				logger.Error(err))
		}
	}
	return nil
}

func clone(u domain.ServiceUnit) domain.ServiceUnit {
	u.MigrateCommand = slices.Clone(u.MigrateCommand)
	u.AllowedStrategies = slices.Clone(u.AllowedStrategies)
	return u
}
