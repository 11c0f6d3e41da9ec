package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stackpilot/internal/capability"
	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/runtime/runtimetest"
	"github.com/MrSnakeDoc/stackpilot/internal/store/memory"
)

type units map[string]domain.ServiceUnit

func (u units) Get(id string) (domain.ServiceUnit, error) {
	unit, ok := u[id]
	if !ok {
		return domain.ServiceUnit{}, &domain.NotFoundError{Kind: "service", ID: id}
	}
	return unit, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store    *Store
	rt       *runtimetest.Fake
	records  *memory.Store
	clock    *clock
	stateDir string
	root     string
	free     uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		rt:       runtimetest.New(),
		records:  memory.New(),
		clock:    &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		stateDir: filepath.Join(base, "state", "nextcloud"),
		root:     filepath.Join(base, "backups"),
		free:     1 << 30,
	}
	require.NoError(t, os.MkdirAll(f.stateDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(f.stateDir, "db"), []byte("v1 data"), 0o600))

	u := units{
		"nextcloud": {ID: "nextcloud", Family: capability.FamilyContainer, StateDir: f.stateDir, CurrentVersionRef: "29.0.3"},
		"whoami":    {ID: "whoami", Family: capability.FamilyStateless, CurrentVersionRef: "v1"},
		"odd":       {ID: "odd", Family: "vm"},
	}
	f.store = New(Options{
		Root:         f.root,
		MinFreeBytes: 1 << 20,
		Units:        u,
		Capabilities: capability.Defaults(f.rt, nil),
		Records:      f.records,
		Now:          f.clock.Now,
		FreeSpace:    func(string) (uint64, error) { return f.free, nil },
	})
	return f
}

func TestCreateBackup(t *testing.T) {
	f := newFixture(t)
	rec, err := f.store.CreateBackup(context.Background(), "nextcloud")
	require.NoError(t, err)

	assert.Equal(t, "nextcloud", rec.ServiceID)
	assert.Equal(t, "29.0.3", rec.SourceVersionRef)
	assert.Len(t, rec.Checksum, 64)
	assert.Positive(t, rec.SizeBytes)
	assert.Equal(t, filepath.Join(f.root, "nextcloud", "20250601T120000Z-"+rec.ID+".tar.gz"), rec.StorageLocation)

	info, err := os.Stat(rec.StorageLocation)
	require.NoError(t, err)
	assert.Equal(t, rec.SizeBytes, info.Size())
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	assert.Equal(t, []string{"stop:nextcloud", "start:nextcloud"}, f.rt.Calls())

	persisted, _ := f.records.ListBackups(context.Background())
	assert.Len(t, persisted, 1)
}

func TestCreateBackupInsufficientSpace(t *testing.T) {
	f := newFixture(t)
	f.free = 1024

	_, err := f.store.CreateBackup(context.Background(), "nextcloud")
	assert.ErrorIs(t, err, domain.ErrBackupInsufficientSpace)
	assert.Empty(t, f.rt.Calls(), "no quiesce when there is no room")
	assert.Empty(t, f.store.List(""))
}

func TestCreateBackupServiceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.rt.Fail("stop:nextcloud")

	_, err := f.store.CreateBackup(context.Background(), "nextcloud")
	assert.ErrorIs(t, err, domain.ErrBackupServiceUnavailable)

	entries, _ := os.ReadDir(filepath.Join(f.root, "nextcloud"))
	assert.Empty(t, entries, "partial archive must be removed")
}

func TestCreateBackupUnknownServiceOrFamily(t *testing.T) {
	f := newFixture(t)
	var nf *domain.NotFoundError
	_, err := f.store.CreateBackup(context.Background(), "ghost")
	assert.ErrorAs(t, err, &nf)
	_, err = f.store.CreateBackup(context.Background(), "odd")
	assert.ErrorAs(t, err, &nf)
}

func TestRestoreBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(f.stateDir, "db"), []byte("v2 data"), 0o600))

	got, err := f.store.RestoreBackup(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	data, err := os.ReadFile(filepath.Join(f.stateDir, "db"))
	require.NoError(t, err)
	assert.Equal(t, "v1 data", string(data))
	assert.Equal(t, "29.0.3", f.rt.Running("nextcloud"))
}

func TestRestoreBackupNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.RestoreBackup(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBackupNotFound)

	rec, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)
	require.NoError(t, os.Remove(rec.StorageLocation))
	_, err = f.store.RestoreBackup(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrBackupNotFound)
}

func TestRestoreBackupCorrupt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)

	fh, err := os.OpenFile(rec.StorageLocation, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, _ = fh.Write([]byte("bitrot"))
	require.NoError(t, fh.Close())

	callsBefore := len(f.rt.Calls())
	_, err = f.store.RestoreBackup(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrBackupCorrupt)
	assert.Len(t, f.rt.Calls(), callsBefore, "a corrupt archive never reaches the runtime")
}

func TestListAndLatest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, ok := f.store.Latest("nextcloud")
	assert.False(t, ok)

	first, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)
	_, err = f.store.CreateBackup(ctx, "whoami")
	require.NoError(t, err)

	latest, ok := f.store.Latest("nextcloud")
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)

	list := f.store.List("nextcloud")
	require.Len(t, list, 2)
	assert.Equal(t, []string{second.ID, first.ID}, []string{list[0].ID, list[1].ID})
	assert.Len(t, f.store.List(""), 3)
}

func TestAcquireForRollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.AcquireForRollback("nextcloud", "30.0.0", "")
	assert.ErrorIs(t, err, domain.ErrNoBackupAvailable)

	rec, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)

	got, err := f.store.AcquireForRollback("nextcloud", "30.0.0", "")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, f.store.Pinned(rec.ID))

	f.store.Unpin(rec.ID)
	assert.False(t, f.store.Pinned(rec.ID))
}

func TestAcquireForRollbackSkipsCurrentVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)

	_, err = f.store.AcquireForRollback("nextcloud", rec.SourceVersionRef, "")
	var rerr *domain.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.Empty(t, rerr.BackupID)
	assert.False(t, f.store.Pinned(rec.ID))

	_, ok := f.store.LatestEligible("nextcloud", rec.SourceVersionRef)
	assert.False(t, ok)
	latest, ok := f.store.LatestEligible("nextcloud", "30.0.0")
	require.True(t, ok)
	assert.Equal(t, rec.ID, latest.ID)
}

func TestAcquireForRollbackByID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	older, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)
	other, err := f.store.CreateBackup(ctx, "whoami")
	require.NoError(t, err)

	got, err := f.store.AcquireForRollback("nextcloud", "30.0.0", older.ID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)
	assert.True(t, f.store.Pinned(older.ID))
	f.store.Unpin(older.ID)

	_, err = f.store.AcquireForRollback("nextcloud", "30.0.0", other.ID)
	assert.ErrorIs(t, err, domain.ErrBackupNotFound)

	_, err = f.store.AcquireForRollback("nextcloud", "30.0.0", "missing")
	assert.ErrorIs(t, err, domain.ErrBackupNotFound)

	_, err = f.store.AcquireForRollback("nextcloud", older.SourceVersionRef, older.ID)
	var rerr *domain.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, older.ID, rerr.BackupID)
	assert.False(t, f.store.Pinned(older.ID))
}

func TestPruneSkipsPinned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []string
	for i := 0; i < 4; i++ {
		rec, err := f.store.CreateBackup(ctx, "nextcloud")
		require.NoError(t, err)
		ids = append(ids, rec.ID)
		f.clock.Advance(time.Hour)
	}

	// ids[0] is the oldest; pin it as an in-flight rollback would.
	f.store.Pin(ids[0])
	f.store.Pin(ids[0])

	removed := f.store.Prune(ctx, Retention{KeepLast: 2})
	assert.Equal(t, 1, removed, "only the unpinned surplus record goes")

	_, ok := f.store.Get(ids[1])
	assert.False(t, ok)
	_, ok = f.store.Get(ids[0])
	assert.True(t, ok)

	f.store.Unpin(ids[0])
	assert.Equal(t, 0, f.store.Prune(ctx, Retention{KeepLast: 2}), "still pinned once")

	f.store.Unpin(ids[0])
	assert.Equal(t, 1, f.store.Prune(ctx, Retention{KeepLast: 2}))
	assert.Len(t, f.store.List("nextcloud"), 2)

	_, err := os.Stat(filepath.Join(f.root, "nextcloud"))
	require.NoError(t, err)
}

func TestPruneByAge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	old, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)
	f.clock.Advance(48 * time.Hour)
	fresh, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.Prune(ctx, Retention{MaxAge: 24 * time.Hour}))
	_, err = os.Stat(old.StorageLocation)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, ok := f.store.Get(fresh.ID)
	assert.True(t, ok)

	persisted, _ := f.records.ListBackups(ctx)
	assert.Len(t, persisted, 1)
}

func TestLoadDropsMissingArchives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	kept, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)
	lost, err := f.store.CreateBackup(ctx, "whoami")
	require.NoError(t, err)
	require.NoError(t, os.Remove(lost.StorageLocation))

	restarted := New(Options{Root: f.root, Records: f.records})
	n, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := restarted.Get(kept.ID)
	assert.True(t, ok)
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.CreateBackup(ctx, "nextcloud")
	require.NoError(t, err)

	require.NoError(t, f.store.RemoveAll(ctx))
	assert.Empty(t, f.store.List(""))
	_, err = os.Stat(f.root)
	assert.True(t, os.IsNotExist(err))
	persisted, _ := f.records.ListBackups(ctx)
	assert.Empty(t, persisted)
}
