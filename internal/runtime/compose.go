package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/logger"
)

// ComposeOptions configures the docker compose adapter.
type ComposeOptions struct {
	Binary         string // default "docker"
	ComposeFile    string
	Project        string
	RouteFile      string
	CommandTimeout time.Duration
	Prober         Prober // optional, used for units with a HealthURL
	Runner         CommandRunner
	Logger         logger.Logger
}

// Compose implements Adapter on top of `docker compose`.
type Compose struct {
	opts ComposeOptions
}

// NewCompose creates a compose adapter.
func NewCompose(opts ComposeOptions) *Compose {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Compose{opts: opts}
}

// VersionEnv returns the variable the compose file reads the image tag from.
// Example: "home-assistant" -> "HOME_ASSISTANT_VERSION"
func VersionEnv(serviceID string) string {
	return strings.ToUpper(strings.ReplaceAll(serviceID, "-", "_")) + "_VERSION"
}

func (c *Compose) Pull(ctx context.Context, unit domain.ServiceUnit, version string) error {
	return c.compose(ctx, "pull", unit.ID, c.opts.ComposeFile, versionEnv(unit, version), "pull", unit.ID)
}

func (c *Compose) Recreate(ctx context.Context, unit domain.ServiceUnit, version string) error {
	return c.compose(ctx, "recreate", unit.ID, c.opts.ComposeFile, versionEnv(unit, version),
		"up", "-d", "--no-deps", "--force-recreate", unit.ID)
}

func (c *Compose) Stop(ctx context.Context, unit domain.ServiceUnit) error {
	return c.compose(ctx, "stop", unit.ID, c.opts.ComposeFile, nil, "stop", unit.ID)
}

func (c *Compose) Start(ctx context.Context, unit domain.ServiceUnit) error {
	return c.compose(ctx, "start", unit.ID, c.opts.ComposeFile, nil, "start", unit.ID)
}

func (c *Compose) Exec(ctx context.Context, unit domain.ServiceUnit, command []string) error {
	if len(command) == 0 {
		return &domain.ValidationError{Field: "command", Reason: "empty"}
	}
	args := append([]string{"exec", "-T", unit.ID}, command...)
	return c.compose(ctx, "exec", unit.ID, c.opts.ComposeFile, nil, args...)
}

// Healthy probes HealthURL when set, otherwise asks compose whether the
// service has a running container.
func (c *Compose) Healthy(ctx context.Context, unit domain.ServiceUnit) error {
	if unit.HealthURL != "" && c.opts.Prober != nil {
		if err := c.opts.Prober.Probe(ctx, unit.HealthURL); err != nil {
			return &domain.RuntimeAdapterError{Op: "probe", ServiceID: unit.ID, Err: err}
		}
		return nil
	}

	out, err := c.output(ctx, c.opts.ComposeFile, nil, "ps", "--status", "running", "-q", unit.ID)
	if err != nil {
		return &domain.RuntimeAdapterError{Op: "ps", ServiceID: unit.ID, Err: err}
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return &domain.RuntimeAdapterError{Op: "ps", ServiceID: unit.ID, Err: fmt.Errorf("no running container")}
	}
	return nil
}

func (c *Compose) RestartAll(ctx context.Context) error {
	return c.compose(ctx, "restart", "", c.opts.ComposeFile, nil, "restart")
}

func (c *Compose) TeardownAll(ctx context.Context) error {
	return c.compose(ctx, "down", "", c.opts.ComposeFile, nil, "down", "--volumes", "--remove-orphans")
}

func (c *Compose) ValidateStack(ctx context.Context, slot domain.Slot) error {
	if slot.ComposeFile == "" {
		return &domain.RuntimeAdapterError{Op: "validate", Err: fmt.Errorf("slot %s has no compose file", slot.ID)}
	}
	if _, err := os.Stat(slot.ComposeFile); err != nil {
		return &domain.RuntimeAdapterError{Op: "validate", Err: err}
	}
	env := []string{"STACK_VERSION=" + slot.StackVersionRef}
	return c.compose(ctx, "validate", "", slot.ComposeFile, env, "config", "--quiet")
}

// RouteTraffic writes the lowercase slot id to the route file read by the
// reverse proxy. The file is replaced atomically.
func (c *Compose) RouteTraffic(_ context.Context, slot domain.Slot) error {
	if c.opts.RouteFile == "" {
		return &domain.RuntimeAdapterError{Op: "route", Err: fmt.Errorf("no route file configured")}
	}
	if err := writeFileAtomic(c.opts.RouteFile, []byte(strings.ToLower(string(slot.ID))+"\n"), 0o644); err != nil {
		return &domain.RuntimeAdapterError{Op: "route", Err: err}
	}
	c.opts.Logger.Info("traffic routed", logger.Slot(string(slot.ID)))
	return nil
}

// ActiveRoute reads the slot currently written in the route file.
func (c *Compose) ActiveRoute() (domain.SlotID, bool) {
	data, err := os.ReadFile(c.opts.RouteFile)
	if err != nil {
		return "", false
	}
	return domain.ParseSlotID(string(data))
}

func (c *Compose) compose(ctx context.Context, op, serviceID, file string, env []string, args ...string) error {
	start := time.Now()
	if _, err := c.output(ctx, file, env, args...); err != nil {
		c.opts.Logger.Warn("runtime command failed",
			logger.String("op", op),
			logger.ServiceID(serviceID),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return &domain.RuntimeAdapterError{Op: op, ServiceID: serviceID, Err: err}
	}
	c.opts.Logger.Debug("runtime command completed",
		logger.String("op", op),
		logger.ServiceID(serviceID),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Compose) output(ctx context.Context, file string, env []string, args ...string) ([]byte, error) {
	if c.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CommandTimeout)
		defer cancel()
	}
	full := []string{"compose", "-f", file}
	if c.opts.Project != "" {
		full = append(full, "-p", c.opts.Project)
	}
	full = append(full, args...)
	return c.opts.Runner.Run(ctx, env, c.opts.Binary, full...)
}

func versionEnv(unit domain.ServiceUnit, version string) []string {
	if version == "" {
		return nil
	}
	return []string{VersionEnv(unit.ID) + "=" + version}
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
