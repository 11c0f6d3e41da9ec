package locks

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stackpilot/internal/domain"
)

func TestServiceLockIsExclusive(t *testing.T) {
	tbl := New()

	require.NoError(t, tbl.TryService("x", "op-1"))

	err := tbl.TryService("x", "op-2")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "x", conflict.Resource)
	assert.Equal(t, "op-1", conflict.HeldBy)

	// Different services do not conflict.
	require.NoError(t, tbl.TryService("y", "op-3"))
}

func TestReleaseRequiresHolder(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.TryService("x", "op-1"))

	tbl.ReleaseService("x", "op-2")
	assert.Error(t, tbl.TryService("x", "op-3"), "release by a non-holder must not free the lock")

	tbl.ReleaseService("x", "op-1")
	assert.NoError(t, tbl.TryService("x", "op-3"))
}

func TestStackExcludesServices(t *testing.T) {
	tbl := New()

	require.NoError(t, tbl.TryService("z", "op-update"))
	err := tbl.TryStack("op-switch")
	require.Error(t, err)
	assert.True(t, errors.As(err, new(*domain.ConflictError)))

	tbl.ReleaseService("z", "op-update")
	require.NoError(t, tbl.TryStack("op-switch"))

	err = tbl.TryService("z", "op-update-2")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, StackResource, conflict.Resource)

	assert.Error(t, tbl.TryStack("op-other"))

	tbl.ReleaseStack("op-switch")
	services, stack := tbl.Held()
	assert.Empty(t, services)
	assert.Empty(t, stack)
}

func TestConcurrentTryServiceOnlyOneWins(t *testing.T) {
	tbl := New()
	const n = 64

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if tbl.TryService("x", fmt.Sprintf("op-%d", i)) == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
