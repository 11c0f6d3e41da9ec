// Package runtime drives the container supervisor (docker compose) that
// actually runs the service units.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
)

// Adapter is everything the control plane asks of the container runtime.
// Implementations must be safe for concurrent use.
type Adapter interface {
	Pull(ctx context.Context, unit domain.ServiceUnit, version string) error
	Recreate(ctx context.Context, unit domain.ServiceUnit, version string) error
	Stop(ctx context.Context, unit domain.ServiceUnit) error
	Start(ctx context.Context, unit domain.ServiceUnit) error
	Exec(ctx context.Context, unit domain.ServiceUnit, command []string) error
	Healthy(ctx context.Context, unit domain.ServiceUnit) error

	RestartAll(ctx context.Context) error
	TeardownAll(ctx context.Context) error

	// ValidateStack checks that a slot's stack definition is runnable.
	ValidateStack(ctx context.Context, slot domain.Slot) error
	// RouteTraffic points the reverse proxy at slot.
	RouteTraffic(ctx context.Context, slot domain.Slot) error
}

// CommandRunner executes an external program. env entries are appended to
// the current process environment.
type CommandRunner interface {
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name and returns its stdout. Stderr is folded into the error.
func (ExecRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
