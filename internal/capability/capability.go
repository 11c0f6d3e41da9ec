// Package capability maps a service family to the procedures that update,
// migrate, back up and restore units of that family.
package capability

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
)

// Procedures are the lifecycle steps a family knows how to perform.
type Procedures interface {
	// Update deploys version and leaves the unit running.
	Update(ctx context.Context, unit domain.ServiceUnit, version string) error
	// Migrate transforms the unit's data in place without changing its version.
	Migrate(ctx context.Context, unit domain.ServiceUnit) error
	// Backup writes a consistent snapshot of the unit's state to w.
	Backup(ctx context.Context, unit domain.ServiceUnit, w io.Writer) error
	// Restore replaces the unit's state with the snapshot in r and restarts
	// it on version.
	Restore(ctx context.Context, unit domain.ServiceUnit, r io.Reader, version string) error
}

// Table resolves procedures by family tag.
type Table struct {
	mu       sync.RWMutex
	families map[string]Procedures
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{families: make(map[string]Procedures)}
}

// Register binds family to p, replacing any earlier binding.
func (t *Table) Register(family string, p Procedures) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.families[family] = p
}

// Resolve returns the procedures of family, or a NotFoundError.
func (t *Table) Resolve(family string) (Procedures, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.families[family]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "capability", ID: family}
	}
	return p, nil
}

// For resolves the procedures of unit's family.
func (t *Table) For(unit domain.ServiceUnit) (Procedures, error) {
	return t.Resolve(unit.Family)
}

// Families lists the registered family tags, sorted.
func (t *Table) Families() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.families))
	for f := range t.families {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
