package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// MaxOperations bounds the operation history kept in memory.
const MaxOperations = 1000

// Store provides in-memory persistence for sessions, operations, backups,
// unit versions and the slot pointer.
// It is used when Redis is not configured, and by tests.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]domain.Session      // token -> session
	operations map[string]*domain.Operation   // id -> operation
	backups    map[string]domain.BackupRecord // id -> record
	units      map[string]domain.UnitState    // id -> persisted state
	slots      *domain.SlotPair
}

var _ store.Store = (*Store)(nil)

// New creates an empty memory store
func New() *Store {
	return &Store{
		sessions:   make(map[string]domain.Session),
		operations: make(map[string]*domain.Operation),
		backups:    make(map[string]domain.BackupRecord),
		units:      make(map[string]domain.UnitState),
	}
}

// ─────────────────────────────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────────────────────────────

func (s *Store) SaveSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

func (s *Store) LoadSessions(_ context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────
// Operations
// ─────────────────────────────────────────────────────────────────

func (s *Store) SaveOperation(_ context.Context, op *domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.operations[op.ID] = op.Clone()
	if len(s.operations) > MaxOperations {
		s.evictOldestLocked()
	}
	return nil
}

// evictOldestLocked drops the oldest terminal operation.
func (s *Store) evictOldestLocked() {
	var oldest *domain.Operation
	for _, op := range s.operations {
		if !op.Status.Terminal() {
			continue
		}
		if oldest == nil || op.CreatedAt.Before(oldest.CreatedAt) {
			oldest = op
		}
	}
	if oldest != nil {
		delete(s.operations, oldest.ID)
	}
}

func (s *Store) GetOperation(_ context.Context, id string) (*domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return op.Clone(), nil
}

func (s *Store) ListOperations(_ context.Context, serviceID string) ([]*domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Operation, 0, len(s.operations))
	for _, op := range s.operations {
		if serviceID != "" && op.ServiceID != serviceID {
			continue
		}
		out = append(out, op.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ─────────────────────────────────────────────────────────────────
// Backups
// ─────────────────────────────────────────────────────────────────

func (s *Store) SaveBackup(_ context.Context, rec domain.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.backups[rec.ID] = rec
	return nil
}

func (s *Store) DeleteBackup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.backups, id)
	return nil
}

func (s *Store) ListBackups(_ context.Context) ([]domain.BackupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BackupRecord, 0, len(s.backups))
	for _, rec := range s.backups {
		out = append(out, rec)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────
// Units and slots
// ─────────────────────────────────────────────────────────────────

func (s *Store) SaveUnitState(_ context.Context, st domain.UnitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.units[st.ID] = st
	return nil
}

func (s *Store) LoadUnitStates(_ context.Context) (map[string]domain.UnitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.UnitState, len(s.units))
	for id, st := range s.units {
		out[id] = st
	}
	return out, nil
}

func (s *Store) SaveSlots(_ context.Context, p domain.SlotPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = &p
	return nil
}

func (s *Store) LoadSlots(_ context.Context) (domain.SlotPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.slots == nil {
		return domain.SlotPair{}, store.ErrNotFound
	}
	return *s.slots, nil
}
