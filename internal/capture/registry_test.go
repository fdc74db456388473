package capture

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.Equal(t, StatusNoSuchCapture, reg.Status("t1"))

	require.NoError(t, reg.Register("t1"))
	require.Equal(t, StatusInProgress, reg.Status("t1"))
	_, ok := reg.Hash("t1")
	require.False(t, ok, "in-progress tickets have no hash")

	require.True(t, reg.Complete("t1", "abc"))
	require.Equal(t, StatusCompleted, reg.Status("t1"))
	hash, ok := reg.Hash("t1")
	require.True(t, ok)
	require.Equal(t, "abc", hash)
}

func TestRegistryTransitionsAreOneWay(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register("done"))
	require.True(t, reg.Complete("done", "h1"))
	require.False(t, reg.Fail("done"))
	require.False(t, reg.Complete("done", "h2"))
	hash, _ := reg.Hash("done")
	require.Equal(t, "h1", hash)
	require.Equal(t, StatusCompleted, reg.Status("done"))

	require.NoError(t, reg.Register("failed"))
	require.True(t, reg.Fail("failed"))
	require.False(t, reg.Complete("failed", "h"))
	require.Equal(t, StatusFailed, reg.Status("failed"))
	_, ok := reg.Hash("failed")
	require.False(t, ok)
}

func TestRegistryRejectsUnknownAndDuplicate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.False(t, reg.Complete("ghost", "h"))
	require.False(t, reg.Fail("ghost"))
	require.Equal(t, StatusNoSuchCapture, reg.Status("ghost"))

	require.NoError(t, reg.Register("t"))
	require.ErrorIs(t, reg.Register("t"), ErrDuplicateTicket)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket := fmt.Sprintf("t-%d", i)
			require.NoError(t, reg.Register(ticket))
			_ = reg.Status(ticket)
			if i%2 == 0 {
				reg.Complete(ticket, "h")
			} else {
				reg.Fail(ticket)
			}
		}(i)
	}
	wg.Wait()

	counts := reg.Counts()
	require.Equal(t, 50, counts[StatusCompleted])
	require.Equal(t, 50, counts[StatusFailed])
	require.Zero(t, counts[StatusInProgress])
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusInProgress.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.False(t, StatusNoSuchCapture.Terminal())
}
