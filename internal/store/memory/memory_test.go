package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

func TestNewStore(t *testing.T) {
	s := New()
	if s == nil {
		t.Fatal("New() returned nil")
	}
	sessions, _ := s.LoadSessions(context.Background())
	if len(sessions) != 0 {
		t.Errorf("New() should start with no sessions, got %v", len(sessions))
	}
	if _, err := s.LoadSlots(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LoadSlots() on empty store error = %v, want ErrNotFound", err)
	}
}

func TestOperationsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()

	op := &domain.Operation{ID: "op-1", ServiceID: "x", Status: domain.StatusPending}
	if err := s.SaveOperation(ctx, op); err != nil {
		t.Fatalf("SaveOperation() error = %v", err)
	}
	op.Status = domain.StatusFailed

	got, err := s.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("GetOperation() error = %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("stored operation mutated through caller pointer: %s", got.Status)
	}

	if _, err := s.GetOperation(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetOperation(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListOperationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ops := []*domain.Operation{
		{ID: "a", ServiceID: "x", CreatedAt: base},
		{ID: "b", ServiceID: "y", CreatedAt: base.Add(time.Minute)},
		{ID: "c", ServiceID: "x", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, op := range ops {
		_ = s.SaveOperation(ctx, op)
	}

	all, _ := s.ListOperations(ctx, "")
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Errorf("ListOperations(\"\") order = %v", ids(all))
	}

	onlyX, _ := s.ListOperations(ctx, "x")
	if len(onlyX) != 2 || onlyX[0].ID != "c" {
		t.Errorf("ListOperations(x) = %v, want [c a]", ids(onlyX))
	}
}

func TestOperationHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < MaxOperations+10; i++ {
		_ = s.SaveOperation(ctx, &domain.Operation{
			ID:        fmt.Sprintf("op-%d", i),
			Status:    domain.StatusSucceeded,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	all, _ := s.ListOperations(ctx, "")
	if len(all) != MaxOperations {
		t.Errorf("history size = %d, want %d", len(all), MaxOperations)
	}
	if _, err := s.GetOperation(ctx, "op-0"); err == nil {
		t.Error("oldest operation should have been evicted")
	}
}

func TestUnitStatesAndSlots(t *testing.T) {
	ctx := context.Background()
	s := New()

	_ = s.SaveUnitState(ctx, domain.UnitState{ID: "x", CurrentVersionRef: "1.0"})
	states, _ := s.LoadUnitStates(ctx)
	if states["x"].CurrentVersionRef != "1.0" {
		t.Errorf("unit state = %+v", states["x"])
	}

	pair := domain.SlotPair{
		Active:  domain.Slot{ID: domain.SlotB, Role: domain.RoleActive},
		Standby: domain.Slot{ID: domain.SlotA, Role: domain.RoleStandby},
	}
	_ = s.SaveSlots(ctx, pair)
	got, err := s.LoadSlots(ctx)
	if err != nil || got.Active.ID != domain.SlotB {
		t.Errorf("LoadSlots() = %+v, %v", got, err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.SaveBackup(ctx, domain.BackupRecord{ID: fmt.Sprintf("b-%d", i), ServiceID: "x"})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.ListBackups(ctx)
		}()
	}
	wg.Wait()

	recs, _ := s.ListBackups(ctx)
	if len(recs) != 10 {
		t.Errorf("ListBackups() = %d records, want 10", len(recs))
	}
}

func ids(ops []*domain.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}
