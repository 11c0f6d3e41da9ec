package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MrSnakeDoc/stackpilot/internal/archive"
	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/runtime"
)

// Family tags registered by Defaults.
const (
	FamilyContainer = "container"
	FamilyStateless = "stateless"
)

// Container handles units whose state lives in a bind-mounted directory.
// Snapshots are taken with the container stopped.
type Container struct {
	rt     runtime.Adapter
	logger logger.Logger
}

// NewContainer creates the container family procedures.
func NewContainer(rt runtime.Adapter, log logger.Logger) *Container {
	if log == nil {
		log = logger.Nop()
	}
	return &Container{rt: rt, logger: log}
}

func (c *Container) Update(ctx context.Context, unit domain.ServiceUnit, version string) error {
	if err := c.rt.Pull(ctx, unit, version); err != nil {
		return err
	}
	return c.rt.Recreate(ctx, unit, version)
}

func (c *Container) Migrate(ctx context.Context, unit domain.ServiceUnit) error {
	if len(unit.MigrateCommand) == 0 {
		return &domain.ValidationError{Field: "migrate", Reason: "no migration command for " + unit.ID}
	}
	return c.rt.Exec(ctx, unit, unit.MigrateCommand)
}

// Backup stops the unit, archives its state dir and starts it again. The
// start is attempted even when archiving failed.
func (c *Container) Backup(ctx context.Context, unit domain.ServiceUnit, w io.Writer) (err error) {
	if unit.StateDir == "" {
		return archive.WriteEmpty(w)
	}
	if err := c.rt.Stop(ctx, unit); err != nil {
		return err
	}
	defer func() {
		if startErr := c.rt.Start(ctx, unit); startErr != nil {
			err = errors.Join(err, startErr)
		}
	}()
	return archive.Write(unit.StateDir, w)
}

// Restore stops the unit, swaps in the extracted snapshot and recreates the
// container on version. The previous state is kept until the swap succeeded.
func (c *Container) Restore(ctx context.Context, unit domain.ServiceUnit, r io.Reader, version string) error {
	if unit.StateDir == "" {
		return c.rt.Recreate(ctx, unit, version)
	}
	if err := c.rt.Stop(ctx, unit); err != nil {
		return err
	}

	if err := swapStateDir(unit.StateDir, r); err != nil {
		// The old state is still in place, bring the unit back on it.
		if startErr := c.rt.Start(ctx, unit); startErr != nil {
			c.logger.Error("failed to restart unit after aborted restore",
				logger.ServiceID(unit.ID),
				logger.Error(startErr))
		}
		return err
	}
	return c.rt.Recreate(ctx, unit, version)
}

func swapStateDir(stateDir string, r io.Reader) error {
	parent := filepath.Dir(stateDir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(stateDir)+".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := archive.Extract(r, staging); err != nil {
		return fmt.Errorf("failed to extract snapshot: %w", err)
	}

	old := staging + ".old"
	hadState := true
	if err := os.Rename(stateDir, old); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to move current state aside: %w", err)
		}
		hadState = false
	}
	if err := os.Rename(staging, stateDir); err != nil {
		if hadState {
			_ = os.Rename(old, stateDir)
		}
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	if hadState {
		_ = os.RemoveAll(old)
	}
	return nil
}

// Stateless handles units without persistent data.
type Stateless struct {
	rt runtime.Adapter
}

// NewStateless creates the stateless family procedures.
func NewStateless(rt runtime.Adapter) *Stateless {
	return &Stateless{rt: rt}
}

func (s *Stateless) Update(ctx context.Context, unit domain.ServiceUnit, version string) error {
	if err := s.rt.Pull(ctx, unit, version); err != nil {
		return err
	}
	return s.rt.Recreate(ctx, unit, version)
}

func (s *Stateless) Migrate(_ context.Context, unit domain.ServiceUnit) error {
	return &domain.ValidationError{Field: "migrate", Reason: unit.ID + " has no data to migrate"}
}

func (s *Stateless) Backup(_ context.Context, _ domain.ServiceUnit, w io.Writer) error {
	return archive.WriteEmpty(w)
}

func (s *Stateless) Restore(ctx context.Context, unit domain.ServiceUnit, _ io.Reader, version string) error {
	return s.rt.Recreate(ctx, unit, version)
}

// Defaults returns a table with the container and stateless families.
func Defaults(rt runtime.Adapter, log logger.Logger) *Table {
	t := NewTable()
	t.Register(FamilyContainer, NewContainer(rt, log))
	t.Register(FamilyStateless, NewStateless(rt))
	return t
}
