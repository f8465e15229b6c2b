package sandbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, strategy string, poolSize int) (*SessionManager, *LocalRuntime) {
	t.Helper()
	rt, err := NewLocalRuntime(t.TempDir(), 0)
	require.NoError(t, err)
	return NewSessionManager(rt, strategy, poolSize), rt
}

func TestGetOrCreateCachesSession(t *testing.T) {
	m, rt := newTestManager(t, AllocationOneToOne, 0)
	cwd := filepath.Join(rt.BaseDir(), "i-abc")

	first, err := m.GetOrCreate(context.Background(), "i-abc", cwd)
	require.NoError(t, err)

	second, err := m.GetOrCreate(context.Background(), "i-abc", cwd)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestGetOrCreateRecoversExistingRuntimeSession(t *testing.T) {
	m, rt := newTestManager(t, AllocationOneToOne, 0)
	cwd := filepath.Join(rt.BaseDir(), "i-dup")

	// Session exists in the runtime but not in the manager cache.
	_, err := rt.CreateSession(context.Background(), "i-dup", cwd)
	require.NoError(t, err)

	sess, err := m.GetOrCreate(context.Background(), "i-dup", cwd)
	require.NoError(t, err)
	assert.Equal(t, "i-dup", sess.ID)
}

func TestGetOrCreateHealsDriftedCwd(t *testing.T) {
	m, rt := newTestManager(t, AllocationOneToOne, 0)
	workspace := filepath.Join(rt.BaseDir(), "i-drift")
	elsewhere := filepath.Join(rt.BaseDir(), "i-drift", "node_modules")

	sess, err := m.GetOrCreate(context.Background(), "i-drift", workspace)
	require.NoError(t, err)

	// Simulate drift: a command left the session somewhere else.
	_, err = rt.Exec(context.Background(), sess.ID, "mkdir -p node_modules", 0)
	require.NoError(t, err)
	_, err = rt.Exec(context.Background(), sess.ID, "cd "+elsewhere, 0)
	require.NoError(t, err)

	_, err = m.GetOrCreate(context.Background(), "i-drift", workspace)
	require.NoError(t, err)

	result, err := rt.Exec(context.Background(), sess.ID, "pwd", 0)
	require.NoError(t, err)
	assert.Equal(t, canonical(t, workspace), canonical(t, result.Stdout))
}

func TestContainerIDDeterministicPool(t *testing.T) {
	m, _ := newTestManager(t, AllocationManyToOne, 4)

	seen := map[string]bool{}
	for _, id := range []string{"i-a", "i-b", "i-c", "i-d", "i-e", "i-f", "i-g", "i-h"} {
		first := m.ContainerID(id)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, m.ContainerID(id))
		}
		seen[first] = true
	}

	for id := range seen {
		assert.Regexp(t, `^pool-[0-3]$`, id)
	}
}

func TestWorkspaceRootNamespacesPooledInstances(t *testing.T) {
	m, rt := newTestManager(t, AllocationManyToOne, 4)
	base := rt.BaseDir()

	root := m.WorkspaceRoot(base, "i-pooled")
	assert.Equal(t, filepath.Join(base, m.ContainerID("i-pooled")), root)
	assert.NotEqual(t, base, root)

	// Stable across calls so every session of the instance lands together.
	assert.Equal(t, root, m.WorkspaceRoot(base, "i-pooled"))
}

func TestWorkspaceRootDedicatedUsesBaseDir(t *testing.T) {
	m, rt := newTestManager(t, AllocationOneToOne, 4)
	assert.Equal(t, rt.BaseDir(), m.WorkspaceRoot(rt.BaseDir(), "i-solo"))
}

func TestContainerIDOneToOne(t *testing.T) {
	m, _ := newTestManager(t, AllocationOneToOne, 4)
	assert.Equal(t, "i-solo", m.ContainerID("i-solo"))
}

func TestInvalidateDropsInstanceSessions(t *testing.T) {
	m, rt := newTestManager(t, AllocationOneToOne, 0)
	cwd := filepath.Join(rt.BaseDir(), "i-gone")

	_, err := m.GetOrCreate(context.Background(), "i-gone", cwd)
	require.NoError(t, err)
	_, err = m.GetOrCreate(context.Background(), "i-gone-proc", cwd)
	require.NoError(t, err)
	_, err = m.GetOrCreate(context.Background(), "i-keep", filepath.Join(rt.BaseDir(), "i-keep"))
	require.NoError(t, err)

	m.Invalidate("i-gone")

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotContains(t, m.cache, "i-gone")
	assert.NotContains(t, m.cache, "i-gone-proc")
	assert.Contains(t, m.cache, "i-keep")
}

func canonical(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return resolved
}
