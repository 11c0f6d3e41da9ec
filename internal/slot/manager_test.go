package slot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
	"github.com/MrSnakeDoc/stackpilot/internal/locks"
	"github.com/MrSnakeDoc/stackpilot/internal/runtime/runtimetest"
	"github.com/MrSnakeDoc/stackpilot/internal/store"
	"github.com/MrSnakeDoc/stackpilot/internal/store/memory"
)

type failingSlots struct{ store.Slots }

func (failingSlots) SaveSlots(context.Context, domain.SlotPair) error {
	return errors.New("disk full")
}

func newManager(rt *runtimetest.Fake, st store.Slots, lt *locks.Table) *Manager {
	return New(Options{
		Locks:   lt,
		Runtime: rt,
		Store:   st,
		Initial: DefaultPair("a.yml", "2025.05", "b.yml", "2025.06"),
	})
}

func assertOneActive(t *testing.T, m *Manager) {
	t.Helper()
	active := 0
	for _, s := range m.Slots() {
		if s.Role == domain.RoleActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestSwitchFlipsRoles(t *testing.T) {
	rt := runtimetest.New()
	m := newManager(rt, memory.New(), locks.New())

	assert.Equal(t, domain.SlotA, m.Active().ID)

	pair, err := m.Switch(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SlotB, pair.Active.ID)
	assert.Equal(t, domain.RoleActive, pair.Active.Role)
	assert.Equal(t, domain.RoleStandby, pair.Standby.Role)
	assert.Equal(t, "2025.06", pair.Active.StackVersionRef)
	assert.False(t, pair.Active.LastSwitchedAt.IsZero())
	assert.Equal(t, domain.SlotB, rt.Routed())
	assert.Equal(t, []string{"validate:B@2025.06", "route:B"}, rt.Calls())

	_, stack := lockHolders(m)
	assert.Empty(t, stack, "stack lock released")
}

func lockHolders(m *Manager) ([]string, string) {
	return m.opts.Locks.Held()
}

func TestSwitchValidationFailureChangesNothing(t *testing.T) {
	rt := runtimetest.New()
	rt.Fail("validate:B")
	m := newManager(rt, memory.New(), locks.New())

	_, err := m.Switch(context.Background(), "op-1")
	require.Error(t, err)
	assert.Equal(t, domain.SlotA, m.Active().ID)
	assert.Empty(t, rt.Routed(), "traffic untouched")
}

func TestSwitchRouteFailureChangesNothing(t *testing.T) {
	rt := runtimetest.New()
	rt.Fail("route:B")
	m := newManager(rt, memory.New(), locks.New())

	_, err := m.Switch(context.Background(), "op-1")
	require.Error(t, err)
	assert.Equal(t, domain.SlotA, m.Active().ID)
	assert.Equal(t, domain.SlotA, rt.Routed(), "route reverted to the active slot")
}

func TestSwitchPersistFailureRevertsRoute(t *testing.T) {
	rt := runtimetest.New()
	m := newManager(rt, failingSlots{}, locks.New())

	_, err := m.Switch(context.Background(), "op-1")
	require.Error(t, err)
	assert.Equal(t, domain.SlotA, m.Active().ID)
	assert.Equal(t, domain.SlotA, rt.Routed())
}

func TestSwitchConflictsWithServiceLock(t *testing.T) {
	lt := locks.New()
	m := newManager(runtimetest.New(), nil, lt)

	require.NoError(t, lt.TryService("z", "update-z"))
	_, err := m.Switch(context.Background(), "op-1")
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "z", ce.Resource)
	assert.Equal(t, domain.SlotA, m.Active().ID)

	lt.ReleaseService("z", "update-z")
	_, err = m.Switch(context.Background(), "op-2")
	require.NoError(t, err)
	assert.Equal(t, domain.SlotB, m.Active().ID)
}

func TestSlotInvariantUnderRandomFailures(t *testing.T) {
	rt := runtimetest.New()
	m := newManager(rt, memory.New(), locks.New())
	rng := rand.New(rand.NewSource(42))

	expected := domain.SlotA
	for i := 0; i < 200; i++ {
		rt.Clear()
		fail := rng.Intn(3) == 0
		if fail {
			rt.Fail("validate")
		}
		_, err := m.Switch(context.Background(), fmt.Sprintf("op-%d", i))
		if fail {
			require.Error(t, err)
		} else {
			require.NoError(t, err)
			if expected == domain.SlotA {
				expected = domain.SlotB
			} else {
				expected = domain.SlotA
			}
		}
		assertOneActive(t, m)
		assert.Equal(t, expected, m.Active().ID)
	}
}

func TestConcurrentReadersNeverSeeTwoActive(t *testing.T) {
	m := newManager(runtimetest.New(), nil, locks.New())
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				p := m.Pair()
				if p.Active.ID == p.Standby.ID || p.Active.Role != domain.RoleActive || p.Standby.Role != domain.RoleStandby {
					t.Errorf("inconsistent pair observed: %+v", p)
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		_, err := m.Switch(context.Background(), fmt.Sprintf("op-%d", i))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestLoadRestoresPersistedPointer(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	rt := runtimetest.New()

	first := newManager(rt, st, locks.New())
	_, err := first.Switch(ctx, "op-1")
	require.NoError(t, err)

	restarted := newManager(rt, st, locks.New())
	assert.Equal(t, domain.SlotA, restarted.Active().ID)
	pair, err := restarted.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SlotB, pair.Active.ID)
	assert.Equal(t, "b.yml", pair.Active.ComposeFile)
	assert.Equal(t, "a.yml", pair.Standby.ComposeFile)

	empty := newManager(rt, memory.New(), locks.New())
	pair, err = empty.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SlotA, pair.Active.ID)
}
