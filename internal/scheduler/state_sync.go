package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
)

// InterruptedMessage is the result of operations found unfinished at startup.
const InterruptedMessage = "interrupted by restart"

// StateSyncer reconciles persisted operations on startup. Tasks do not
// survive a restart, so anything left Pending or Running is failed.
type StateSyncer struct {
	operations store.Operations
	logger     logger.Logger
	now        func() time.Time
}

// NewStateSyncer creates a new state syncer
func NewStateSyncer(ops store.Operations, log logger.Logger) *StateSyncer {
	return &StateSyncer{
		operations: ops,
		logger:     log,
		now:        time.Now,
	}
}

// Sync fails every non-terminal operation and returns how many it touched.
func (ss *StateSyncer) Sync(ctx context.Context) (int, error) {
	ss.logger.Info("reconciling persisted operations")

	ops, err := ss.operations.ListOperations(ctx, "")
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, op := range ops {
		if op.Status.Terminal() {
			continue
		}
		if err := op.Transition(domain.StatusFailed, InterruptedMessage, ss.now()); err != nil {
			ss.logger.Warn("cannot fail interrupted operation",
				logger.OperationID(op.ID), logger.Error(err))
			continue
		}
		if err := ss.operations.SaveOperation(ctx, op); err != nil {
			ss.logger.Warn("failed to persist interrupted operation",
				logger.OperationID(op.ID), logger.Error(err))
			continue
		}
		ss.logger.Warn("operation interrupted by restart",
			logger.OperationID(op.ID),
			logger.Kind(string(op.Kind)),
			logger.ServiceID(op.ServiceID))
		failed++
	}

	if failed == 0 {
		ss.logger.Info("no interrupted operations found", logger.Int("operations", len(ops)))
	}
	return failed, nil
}
