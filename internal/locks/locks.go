// Package locks holds the per-service and stack-wide operation locks that
// keep mutating operations from overlapping.
package locks

import (
	"sort"
	"sync"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
)

// StackResource is the resource name reported for stack-level conflicts.
const StackResource = "stack"

// Table is the process-wide lock table. A service lock excludes other
// operations on the same unit; the stack lock excludes every service lock.
// Each acquisition is a single test-and-set under the table mutex.
type Table struct {
	mu       sync.Mutex
	services map[string]string // service id -> operation id
	stack    string            // operation id holding the stack, empty when free
}

// New creates an empty lock table.
func New() *Table {
	return &Table{services: make(map[string]string)}
}

// TryService acquires the lock of serviceID for opID.
func (t *Table) TryService(serviceID, opID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stack != "" {
		return &domain.ConflictError{Resource: StackResource, HeldBy: t.stack}
	}
	if holder, ok := t.services[serviceID]; ok {
		return &domain.ConflictError{Resource: serviceID, HeldBy: holder}
	}
	t.services[serviceID] = opID
	return nil
}

// ReleaseService frees serviceID if opID still holds it.
func (t *Table) ReleaseService(serviceID, opID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.services[serviceID] == opID {
		delete(t.services, serviceID)
	}
}

// TryStack acquires the stack lock. It fails while any service lock is held.
func (t *Table) TryStack(opID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stack != "" {
		return &domain.ConflictError{Resource: StackResource, HeldBy: t.stack}
	}
	for id, holder := range t.services {
		return &domain.ConflictError{Resource: id, HeldBy: holder}
	}
	t.stack = opID
	return nil
}

// ReleaseStack frees the stack lock if opID still holds it.
func (t *Table) ReleaseStack(opID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stack == opID {
		t.stack = ""
	}
}

// Held returns the ids of locked services, sorted, and the stack holder.
func (t *Table) Held() (services []string, stack string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	services = make([]string, 0, len(t.services))
	for id := range t.services {
		services = append(services, id)
	}
	sort.Strings(services)
	return services, t.stack
}
