// Package backup creates, restores and prunes point-in-time snapshots of
// service unit state.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/stackpilot/internal/capability"
	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/metrics"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

const timestampLayout = "20060102T150405Z"

// UnitSource resolves a service unit by id.
type UnitSource interface {
	Get(id string) (domain.ServiceUnit, error)
}

// Retention decides which records Prune removes. A record expires when it
// is older than MaxAge or not among the KeepLast newest of its service.
// Zero disables the respective rule.
type Retention struct {
	MaxAge   time.Duration
	KeepLast int
}

// Options configures a Store.
type Options struct {
	Root         string
	MinFreeBytes uint64
	Units        UnitSource
	Capabilities *capability.Table
	Records      store.Backups // optional persistence
	Logger       logger.Logger
	Now          func() time.Time
	FreeSpace    FreeSpaceFunc // defaults to StatfsFreeSpace
}

// Store keeps backup records and their archives under Root.
type Store struct {
	opts Options

	mu      sync.Mutex
	records map[string]domain.BackupRecord
	pins    map[string]int
}

// New creates a Store. Call Load to pick up persisted records.
func New(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.FreeSpace == nil {
		opts.FreeSpace = StatfsFreeSpace
	}
	return &Store{
		opts:    opts,
		records: make(map[string]domain.BackupRecord),
		pins:    make(map[string]int),
	}
}

// Load reads persisted records, skipping those whose archive disappeared.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.opts.Records == nil {
		return 0, nil
	}
	recs, err := s.opts.Records.ListBackups(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load backup records: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, rec := range recs {
		if _, err := os.Stat(rec.StorageLocation); err != nil {
			s.opts.Logger.Warn("backup archive missing, dropping record",
				logger.BackupID(rec.ID),
				logger.String("location", rec.StorageLocation))
			_ = s.opts.Records.DeleteBackup(ctx, rec.ID)
			continue
		}
		s.records[rec.ID] = rec
		loaded++
	}
	return loaded, nil
}

// CreateBackup snapshots the unit's state as of its current version.
func (s *Store) CreateBackup(ctx context.Context, serviceID string) (rec domain.BackupRecord, err error) {
	defer func() {
		metrics.BackupsTotal.WithLabelValues(metrics.Result(err)).Inc()
	}()

	unit, err := s.opts.Units.Get(serviceID)
	if err != nil {
		return domain.BackupRecord{}, err
	}
	procs, err := s.opts.Capabilities.For(unit)
	if err != nil {
		return domain.BackupRecord{}, err
	}

	dir := filepath.Join(s.opts.Root, serviceID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return domain.BackupRecord{}, fmt.Errorf("failed to create backup dir: %w", err)
	}
	if err := s.checkFreeSpace(dir); err != nil {
		return domain.BackupRecord{}, err
	}

	now := s.opts.Now().UTC()
	rec = domain.BackupRecord{
		ID:               uuid.NewString(),
		ServiceID:        serviceID,
		CreatedAt:        now,
		SourceVersionRef: unit.CurrentVersionRef,
	}
	rec.StorageLocation = filepath.Join(dir, now.Format(timestampLayout)+"-"+rec.ID+".tar.gz")

	size, sum, err := s.writeArchive(ctx, procs, unit, rec.StorageLocation)
	if err != nil {
		return domain.BackupRecord{}, err
	}
	rec.SizeBytes = size
	rec.Checksum = sum

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	s.persist(ctx, rec)

	metrics.BackupBytes.Observe(float64(size))
	s.opts.Logger.Info("backup created",
		logger.ServiceID(serviceID),
		logger.BackupID(rec.ID),
		logger.String("version", rec.SourceVersionRef),
		logger.Int64("size_bytes", size))
	return rec, nil
}

func (s *Store) checkFreeSpace(dir string) error {
	if s.opts.MinFreeBytes == 0 {
		return nil
	}
	free, err := s.opts.FreeSpace(dir)
	if err != nil {
		return &domain.BackupError{Reason: domain.BackupInsufficientSpace, Err: err}
	}
	if free < s.opts.MinFreeBytes {
		return &domain.BackupError{
			Reason: domain.BackupInsufficientSpace,
			Err:    fmt.Errorf("%d bytes free, %d required", free, s.opts.MinFreeBytes),
		}
	}
	return nil
}

// writeArchive streams the snapshot into a temp file next to dest and
// renames it into place once complete, so a partial archive is never
// visible under its final name.
func (s *Store) writeArchive(ctx context.Context, procs capability.Procedures, unit domain.ServiceUnit, dest string) (int64, string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return 0, "", fmt.Errorf("failed to create temp archive: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(tmp, h)}
	if err := procs.Backup(ctx, unit, cw); err != nil {
		return 0, "", &domain.BackupError{Reason: domain.BackupServiceUnavailable, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return 0, "", fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return 0, "", fmt.Errorf("failed to chmod archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, "", fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, "", fmt.Errorf("failed to commit archive: %w", err)
	}
	committed = true
	return cw.n, hex.EncodeToString(h.Sum(nil)), nil
}

// RestoreBackup verifies the archive and asks the unit's procedures to put
// it back in place, restarting the unit on the record's source version.
func (s *Store) RestoreBackup(ctx context.Context, backupID string) (domain.BackupRecord, error) {
	rec, ok := s.Get(backupID)
	if !ok {
		return domain.BackupRecord{}, &domain.BackupError{Reason: domain.BackupNotFound, BackupID: backupID}
	}

	f, err := os.Open(rec.StorageLocation)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, &domain.BackupError{Reason: domain.BackupNotFound, BackupID: backupID, Err: err}
		}
		return rec, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := verify(f, rec.Checksum); err != nil {
		return rec, &domain.BackupError{Reason: domain.BackupCorrupt, BackupID: backupID, Err: err}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return rec, fmt.Errorf("failed to rewind archive: %w", err)
	}

	unit, err := s.opts.Units.Get(rec.ServiceID)
	if err != nil {
		return rec, err
	}
	procs, err := s.opts.Capabilities.For(unit)
	if err != nil {
		return rec, err
	}
	if err := procs.Restore(ctx, unit, f, rec.SourceVersionRef); err != nil {
		return rec, fmt.Errorf("failed to restore backup %s: %w", backupID, err)
	}

	s.opts.Logger.Info("backup restored",
		logger.ServiceID(rec.ServiceID),
		logger.BackupID(rec.ID),
		logger.String("version", rec.SourceVersionRef))
	return rec, nil
}

func verify(r io.Reader, want string) error {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
	}
	return nil
}

// Get returns a record by id.
func (s *Store) Get(id string) (domain.BackupRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// List returns the records of serviceID, newest first. Empty lists all.
func (s *Store) List(serviceID string) []domain.BackupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(serviceID)
}

func (s *Store) listLocked(serviceID string) []domain.BackupRecord {
	out := make([]domain.BackupRecord, 0)
	for _, rec := range s.records {
		if serviceID == "" || rec.ServiceID == serviceID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Latest returns the newest record of serviceID.
func (s *Store) Latest(serviceID string) (domain.BackupRecord, bool) {
	recs := s.List(serviceID)
	if len(recs) == 0 {
		return domain.BackupRecord{}, false
	}
	return recs[0], true
}

// eligibleLocked returns the records of serviceID taken on a version other
// than current, newest first. Only those can move the unit back.
func (s *Store) eligibleLocked(serviceID, current string) []domain.BackupRecord {
	recs := s.listLocked(serviceID)
	out := recs[:0]
	for _, rec := range recs {
		if rec.SourceVersionRef != current {
			out = append(out, rec)
		}
	}
	return out
}

// LatestEligible returns the newest record of serviceID whose source
// version precedes current.
func (s *Store) LatestEligible(serviceID, current string) (domain.BackupRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.eligibleLocked(serviceID, current)
	if len(recs) == 0 {
		return domain.BackupRecord{}, false
	}
	return recs[0], true
}

// AcquireForRollback selects the record a rollback of serviceID should
// restore and pins it so Prune leaves it alone. With backupID empty the
// newest eligible record is used, otherwise backupID must name an
// eligible record of serviceID. The caller must Unpin it when done.
func (s *Store) AcquireForRollback(serviceID, current, backupID string) (domain.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if backupID != "" {
		rec, ok := s.records[backupID]
		if !ok || rec.ServiceID != serviceID {
			return domain.BackupRecord{}, &domain.BackupError{Reason: domain.BackupNotFound, BackupID: backupID}
		}
		if rec.SourceVersionRef == current {
			return domain.BackupRecord{}, &domain.RollbackError{ServiceID: serviceID, BackupID: backupID}
		}
		s.pins[rec.ID]++
		return rec, nil
	}

	recs := s.eligibleLocked(serviceID, current)
	if len(recs) == 0 {
		return domain.BackupRecord{}, &domain.RollbackError{ServiceID: serviceID}
	}
	s.pins[recs[0].ID]++
	return recs[0], nil
}

// Pin protects a record from pruning. Pins are reference counted.
func (s *Store) Pin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[id]++
}

// Unpin releases one Pin.
func (s *Store) Unpin(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pins[id] <= 1 {
		delete(s.pins, id)
		return
	}
	s.pins[id]--
}

// Pinned reports whether id is pinned.
func (s *Store) Pinned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[id] > 0
}

// Prune deletes expired records and their archives. Pinned records are
// never removed. It returns how many records were deleted.
func (s *Store) Prune(ctx context.Context, policy Retention) int {
	now := s.opts.Now()

	s.mu.Lock()
	perService := make(map[string]int)
	var expired []domain.BackupRecord
	for _, rec := range s.listLocked("") {
		rank := perService[rec.ServiceID]
		perService[rec.ServiceID]++

		tooOld := policy.MaxAge > 0 && now.Sub(rec.CreatedAt) > policy.MaxAge
		tooMany := policy.KeepLast > 0 && rank >= policy.KeepLast
		if !tooOld && !tooMany {
			continue
		}
		if s.pins[rec.ID] > 0 {
			s.opts.Logger.Debug("skipping pinned backup", logger.BackupID(rec.ID))
			continue
		}
		delete(s.records, rec.ID)
		expired = append(expired, rec)
	}
	s.mu.Unlock()

	for _, rec := range expired {
		s.remove(ctx, rec)
	}
	if len(expired) > 0 {
		metrics.BackupsPruned.Add(float64(len(expired)))
		s.opts.Logger.Info("pruned backups", logger.Int("count", len(expired)))
	}
	return len(expired)
}

// RemoveAll deletes every record and the whole backup tree.
func (s *Store) RemoveAll(ctx context.Context) error {
	s.mu.Lock()
	all := s.listLocked("")
	s.records = make(map[string]domain.BackupRecord)
	s.pins = make(map[string]int)
	s.mu.Unlock()

	for _, rec := range all {
		s.forget(ctx, rec.ID)
	}
	if err := os.RemoveAll(s.opts.Root); err != nil {
		return fmt.Errorf("failed to remove backups: %w", err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, rec domain.BackupRecord) {
	if err := os.Remove(rec.StorageLocation); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.opts.Logger.Warn("failed to delete backup archive",
			logger.BackupID(rec.ID),
			logger.Error(err))
	}
	s.forget(ctx, rec.ID)
}

func (s *Store) persist(ctx context.Context, rec domain.BackupRecord) {
	if s.opts.Records == nil {
		return
	}
	if err := s.opts.Records.SaveBackup(ctx, rec); err != nil {
		s.opts.Logger.Warn("failed to persist backup record",
			logger.BackupID(rec.ID),
			logger.Error(err))
	}
}

func (s *Store) forget(ctx context.Context, id string) {
	if s.opts.Records == nil {
		return
	}
	if err := s.opts.Records.DeleteBackup(ctx, id); err != nil {
		s.opts.Logger.Warn("failed to delete backup record",
			logger.BackupID(id),
			logger.Error(err))
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
