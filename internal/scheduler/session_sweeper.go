package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

// Sweeper drops expired sessions.
type Sweeper interface {
	IdleCleanup() bool
	Sweep(ctx context.Context) int
}

// SessionSweeper evicts idle sessions while idle cleanup is enabled.
// The setting is read on every tick so it can be toggled at runtime.
type SessionSweeper struct {
	sessions Sweeper
	logger   logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

func NewSessionSweeper(sessions Sweeper, log logger.Logger, interval time.Duration) *SessionSweeper {
	return &SessionSweeper{
		sessions: sessions,
		logger:   log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (ss *SessionSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(ss.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ss.Sweep(ctx)
			case <-ss.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (ss *SessionSweeper) Stop() {
	close(ss.stopCh)
}

// Sweep runs one pass. It is a no-op while idle cleanup is disabled.
func (ss *SessionSweeper) Sweep(ctx context.Context) int {
	if !ss.sessions.IdleCleanup() {
		return 0
	}
	n := ss.sessions.Sweep(ctx)
	if n > 0 {
		ss.logger.Info("idle sessions removed", logger.Int("count", n))
	}
	return n
}
