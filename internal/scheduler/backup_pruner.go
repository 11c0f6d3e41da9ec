package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/backup"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

// Pruner deletes backups outside the retention policy.
type Pruner interface {
	Prune(ctx context.Context, policy backup.Retention) int
}

// BackupPruner periodically applies the retention policy
type BackupPruner struct {
	backups   Pruner
	logger    logger.Logger
	interval  time.Duration
	retention backup.Retention
	stopCh    chan struct{}
}

// NewBackupPruner creates a new backup pruner
func NewBackupPruner(
	backups Pruner,
	log logger.Logger,
	interval time.Duration,
	retention backup.Retention,
) *BackupPruner {
	return &BackupPruner{
		backups:   backups,
		logger:    log,
		interval:  interval,
		retention: retention,
		stopCh:    make(chan struct{}),
	}
}

// Start prunes once, then on every tick
func (bp *BackupPruner) Start(ctx context.Context) {
	bp.Collect(ctx)

	ticker := time.NewTicker(bp.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bp.Collect(ctx)
			case <-bp.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the pruner
func (bp *BackupPruner) Stop() {
	close(bp.stopCh)
}

// Collect runs one retention pass and returns how many backups were deleted.
// Backups pinned by a running update or rollback are kept.
func (bp *BackupPruner) Collect(ctx context.Context) int {
	deleted := bp.backups.Prune(ctx, bp.retention)
	if deleted > 0 {
		bp.logger.Info("backup retention applied",
			logger.Int("deleted", deleted),
			logger.Duration("max_age", bp.retention.MaxAge),
			logger.Int("keep_last", bp.retention.KeepLast))
	} else {
		bp.logger.Debug("no backups to prune")
	}
	return deleted
}
