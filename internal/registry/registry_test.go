package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrouter/internal/agent"
	"agentrouter/internal/domain"
)

func fake(id string, caps ...string) agent.Agent {
	return agent.NewFunc(id, "", caps, func(_ context.Context, in string) (string, error) {
		return id + ":" + in, nil
	})
}

func ids(agents []agent.Agent) []string {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.ID())
	}
	return out
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r, err := New(fake("a", "x"))
	require.NoError(t, err)

	err = r.Register(fake("a", "y"))
	assert.ErrorIs(t, err, domain.ErrAgentExists)

	require.NoError(t, r.Replace(fake("a", "y")))
	info, ok := r.Info("a")
	require.True(t, ok)
	assert.Equal(t, []string{"y"}, info.Capabilities)
	assert.Equal(t, 1, r.Len())
}

func TestFindByCapabilityKeepsRegistrationOrder(t *testing.T) {
	r, err := New(fake("c", "math"), fake("a", "math", "echo"), fake("b", "echo"))
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a"}, ids(r.FindByCapability("math")))
	assert.Equal(t, []string{"a", "b"}, ids(r.FindByCapability("echo")))
	assert.Empty(t, r.FindByCapability("translation"))

	assert.Equal(t, []string{"a"}, ids(r.FindByCapabilities([]string{"math", "echo"}, true)))
	assert.Equal(t, []string{"c", "a", "b"}, ids(r.FindByCapabilities([]string{"math", "echo"}, false)))
	assert.Empty(t, r.FindByCapabilities(nil, true))
}

func TestUnregister(t *testing.T) {
	r, err := New(fake("a", "x"), fake("b", "x"))
	require.NoError(t, err)

	removed, ok := r.Unregister("a")
	require.True(t, ok)
	assert.Equal(t, "a", removed.ID())
	_, ok = r.Unregister("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, r.IDs())
}

func TestSnapshotIsIsolatedFromLaterMutation(t *testing.T) {
	r, err := New(fake("a", "x"))
	require.NoError(t, err)
	snap := r.Snapshot()

	require.NoError(t, r.Register(fake("b", "x")))
	r.Unregister("a")

	assert.Equal(t, []string{"a"}, ids(snap.FindByCapability("x")))
	assert.Equal(t, []string{"b"}, ids(r.FindByCapability("x")))
}

func TestSync(t *testing.T) {
	r, err := New(fake("a", "x"), fake("b", "x"), fake("c", "x"))
	require.NoError(t, err)

	added, replaced, removed := r.Sync([]agent.Agent{fake("c", "y"), fake("d", "x"), fake("a", "x")})
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, replaced)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"a", "c", "d"}, r.IDs())
	assert.Equal(t, []string{"c"}, ids(r.FindByCapability("y")))
}

func TestConcurrentLookupsDuringMutation(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(fake(fmt.Sprintf("agent-%d", i), "x"))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.FindByCapability("x")
			_ = r.Snapshot().AllInfo()
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, r.Len())
}
