package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/backup"
	"github.com/MrSnakeDoc/stackpilot/internal/catalog"
	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/registry"
	"github.com/MrSnakeDoc/stackpilot/internal/store/memory"
)

type fakePruner struct {
	mu      sync.Mutex
	calls   []backup.Retention
	deleted int
}

func (f *fakePruner) Prune(_ context.Context, policy backup.Retention) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, policy)
	return f.deleted
}

func TestBackupPruner_Collect(t *testing.T) {
	pruner := &fakePruner{deleted: 3}
	retention := backup.Retention{MaxAge: 30 * 24 * time.Hour, KeepLast: 5}

	bp := NewBackupPruner(pruner, logger.Nop(), time.Hour, retention)

	if got := bp.Collect(context.Background()); got != 3 {
		t.Errorf("Collect() = %d, want 3", got)
	}
	if len(pruner.calls) != 1 {
		t.Fatalf("Prune called %d times, want 1", len(pruner.calls))
	}
	if pruner.calls[0] != retention {
		t.Errorf("Prune policy = %+v, want %+v", pruner.calls[0], retention)
	}
}

func TestBackupPruner_StartRunsImmediately(t *testing.T) {
	pruner := &fakePruner{}
	bp := NewBackupPruner(pruner, logger.Nop(), time.Hour, backup.Retention{KeepLast: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bp.Start(ctx)
	defer bp.Stop()

	pruner.mu.Lock()
	defer pruner.mu.Unlock()
	if len(pruner.calls) != 1 {
		t.Errorf("Prune called %d times on start, want 1", len(pruner.calls))
	}
}

type fakeSweeper struct {
	idle  bool
	swept int
}

func (f *fakeSweeper) IdleCleanup() bool { return f.idle }

func (f *fakeSweeper) Sweep(context.Context) int {
	f.swept++
	return 2
}

func TestSessionSweeper_Sweep(t *testing.T) {
	tests := []struct {
		name      string
		idle      bool
		want      int
		wantSweep int
	}{
		{name: "idle cleanup enabled", idle: true, want: 2, wantSweep: 1},
		{name: "idle cleanup disabled", idle: false, want: 0, wantSweep: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &fakeSweeper{idle: tt.idle}
			ss := NewSessionSweeper(sessions, logger.Nop(), time.Minute)

			if got := ss.Sweep(context.Background()); got != tt.want {
				t.Errorf("Sweep() = %d, want %d", got, tt.want)
			}
			if sessions.swept != tt.wantSweep {
				t.Errorf("underlying Sweep called %d times, want %d", sessions.swept, tt.wantSweep)
			}
		})
	}
}

func TestStateSyncer_Sync(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	now := time.Now()

	ops := []*domain.Operation{
		{ID: "pending", ServiceID: "x", Kind: domain.KindUpdate, Status: domain.StatusPending, CreatedAt: now},
		{ID: "running", ServiceID: "y", Kind: domain.KindRollback, Status: domain.StatusRunning, CreatedAt: now, StartedAt: now},
		{ID: "done", ServiceID: "z", Kind: domain.KindUpdate, Status: domain.StatusSucceeded, ResultMessage: "ok", CreatedAt: now},
	}
	for _, op := range ops {
		if err := st.SaveOperation(ctx, op); err != nil {
			t.Fatalf("SaveOperation() error = %v", err)
		}
	}

	ss := NewStateSyncer(st, logger.Nop())
	failed, err := ss.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if failed != 2 {
		t.Errorf("Sync() = %d, want 2", failed)
	}

	for _, id := range []string{"pending", "running"} {
		op, err := st.GetOperation(ctx, id)
		if err != nil {
			t.Fatalf("GetOperation(%s) error = %v", id, err)
		}
		if op.Status != domain.StatusFailed {
			t.Errorf("%s status = %s, want Failed", id, op.Status)
		}
		if op.ResultMessage != InterruptedMessage {
			t.Errorf("%s message = %q, want %q", id, op.ResultMessage, InterruptedMessage)
		}
		if op.FinishedAt.IsZero() {
			t.Errorf("%s FinishedAt not set", id)
		}
	}

	done, _ := st.GetOperation(ctx, "done")
	if done.Status != domain.StatusSucceeded || done.ResultMessage != "ok" {
		t.Errorf("terminal operation was modified: %+v", done)
	}

	again, err := ss.Sync(ctx)
	if err != nil || again != 0 {
		t.Errorf("second Sync() = %d, %v; want 0, nil", again, err)
	}
}

func writeCatalog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
}

func TestCatalogReloader_Reload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")

	writeCatalog(t, path, `---
services:
  - id: nextcloud
    version: "29.0.3"
  - id: jellyfin
`)

	reg := registry.New(nil, logger.Nop())
	cr := NewCatalogReloader(path, catalog.NewMapper("hub-", dir), reg, logger.Nop(), time.Hour, nil)

	if err := cr.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if reg.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", reg.Count())
	}

	// Versions recorded by operations survive a reload.
	if err := reg.RecordVersion(ctx, "nextcloud", "29.0.4"); err != nil {
		t.Fatalf("RecordVersion() error = %v", err)
	}

	writeCatalog(t, path, `---
services:
  - id: nextcloud
    version: "29.0.3"
  - id: immich
`)
	if err := cr.Reload(ctx); err != nil {
		t.Fatalf("second Reload() error = %v", err)
	}

	units := reg.List()
	if len(units) != 2 || units[0].ID != "nextcloud" || units[1].ID != "immich" {
		t.Fatalf("List() = %+v, want [nextcloud immich]", units)
	}
	if units[0].CurrentVersionRef != "29.0.4" {
		t.Errorf("nextcloud version = %q, want 29.0.4", units[0].CurrentVersionRef)
	}
	if _, err := reg.Get("jellyfin"); err == nil {
		t.Error("jellyfin should have been removed")
	}
}

func TestCatalogReloader_BrokenCatalogKeepsRegistry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")

	writeCatalog(t, path, "services:\n  - id: adguard\n")
	reg := registry.New(nil, logger.Nop())
	cr := NewCatalogReloader(path, catalog.NewMapper("hub-", dir), reg, logger.Nop(), time.Hour, nil)
	if err := cr.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	writeCatalog(t, path, "services: [[[")
	if err := cr.Reload(ctx); err == nil {
		t.Fatal("Reload() should fail on invalid YAML")
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d after failed reload, want 1", reg.Count())
	}
}

func TestCatalogReloader_ManualTrigger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "services.yaml")
	writeCatalog(t, path, "services:\n  - id: adguard\n")

	reg := registry.New(nil, logger.Nop())
	trigger := make(chan struct{})
	cr := NewCatalogReloader(path, catalog.NewMapper("hub-", dir), reg, logger.Nop(), time.Hour, trigger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cr.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer cr.Stop()

	writeCatalog(t, path, "services:\n  - id: adguard\n  - id: vaultwarden\n")
	trigger <- struct{}{}

	deadline := time.Now().Add(2 * time.Second)
	for reg.Count() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Count() = %d after manual trigger, want 2", reg.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCatalogReloader_StartFailsOnMissingFile(t *testing.T) {
	reg := registry.New(nil, logger.Nop())
	cr := NewCatalogReloader(filepath.Join(t.TempDir(), "missing.yaml"),
		catalog.NewMapper("hub-", t.TempDir()), reg, logger.Nop(), time.Hour, nil)

	if err := cr.Start(context.Background()); err == nil {
		t.Error("Start() should fail when the catalog is missing")
	}
}
