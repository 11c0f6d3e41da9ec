// Package runtimetest provides an in-memory runtime.Adapter for tests.
package runtimetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
)

// ErrInjected is the error returned by operations configured to fail.
var ErrInjected = errors.New("injected runtime failure")

// Fake records calls and fails the operations it is told to.
// Failure keys are "op" or "op:serviceID", e.g. "recreate:nextcloud".
type Fake struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
	versions map[string]string
	routed   domain.SlotID

	// Hook, when set, runs at the start of every call.
	Hook func(call string)
}

// New creates a Fake where every operation succeeds.
func New() *Fake {
	return &Fake{
		failures: make(map[string]error),
		versions: make(map[string]string),
	}
}

// Fail makes key fail with ErrInjected until Clear is called.
func (f *Fake) Fail(key string) {
	f.FailWith(key, ErrInjected)
}

// FailWith makes key fail with err.
func (f *Fake) FailWith(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = err
}

// Clear removes every configured failure.
func (f *Fake) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]error)
}

// Calls returns the recorded calls in order, e.g. "recreate:nextcloud@29".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Running returns the version the last successful Recreate deployed.
func (f *Fake) Running(serviceID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[serviceID]
}

// Routed returns the slot traffic was last routed to.
func (f *Fake) Routed() domain.SlotID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.routed
}

func (f *Fake) do(op, serviceID, detail string) error {
	call := op
	if serviceID != "" {
		call += ":" + serviceID
	}
	if detail != "" {
		call += "@" + detail
	}

	if f.Hook != nil {
		f.Hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)

	err, ok := f.failures[op+":"+serviceID]
	if !ok {
		err, ok = f.failures[op]
	}
	if ok {
		return &domain.RuntimeAdapterError{Op: op, ServiceID: serviceID, Err: err}
	}
	return nil
}

func (f *Fake) Pull(_ context.Context, unit domain.ServiceUnit, version string) error {
	return f.do("pull", unit.ID, version)
}

func (f *Fake) Recreate(_ context.Context, unit domain.ServiceUnit, version string) error {
	if err := f.do("recreate", unit.ID, version); err != nil {
		return err
	}
	f.mu.Lock()
	f.versions[unit.ID] = version
	f.mu.Unlock()
	return nil
}

func (f *Fake) Stop(_ context.Context, unit domain.ServiceUnit) error {
	return f.do("stop", unit.ID, "")
}

func (f *Fake) Start(_ context.Context, unit domain.ServiceUnit) error {
	return f.do("start", unit.ID, "")
}

func (f *Fake) Exec(_ context.Context, unit domain.ServiceUnit, command []string) error {
	return f.do("exec", unit.ID, fmt.Sprint(command))
}

func (f *Fake) Healthy(_ context.Context, unit domain.ServiceUnit) error {
	return f.do("healthy", unit.ID, "")
}

func (f *Fake) RestartAll(context.Context) error {
	return f.do("restart-all", "", "")
}

func (f *Fake) TeardownAll(context.Context) error {
	return f.do("teardown", "", "")
}

func (f *Fake) ValidateStack(_ context.Context, slot domain.Slot) error {
	return f.do("validate", string(slot.ID), slot.StackVersionRef)
}

func (f *Fake) RouteTraffic(_ context.Context, slot domain.Slot) error {
	if err := f.do("route", string(slot.ID), ""); err != nil {
		return err
	}
	f.mu.Lock()
	f.routed = slot.ID
	f.mu.Unlock()
	return nil
}
