package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/butai/internal/sandbox"
)

const testConfig = `{
  "name": "acme-store",
  "kv_namespaces": [
    {"binding": "CACHE", "id": "{{PLACEHOLDER:kv:CACHE}}"}
  ],
  "d1_databases": [
    {"binding": "DB", "database_id": "{{PLACEHOLDER:d1:DB}}"}
  ]
}`

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	rt, err := sandbox.NewLocalRuntime(t.TempDir(), 64*1024)
	require.NoError(t, err)
	workspace := t.TempDir()
	return NewEngine(rt), workspace
}

func writeConfig(t *testing.T, workspace, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, ConfigFile), []byte(content), 0o644))
}

func TestDetectPlaceholders(t *testing.T) {
	phs := DetectPlaceholders(testConfig)
	require.Len(t, phs, 2)
	assert.Equal(t, "kv", phs[0].ResourceType)
	assert.Equal(t, "CACHE", phs[0].Binding)
	assert.Equal(t, "{{PLACEHOLDER:kv:CACHE}}", phs[0].Token)
	assert.Equal(t, "d1", phs[1].ResourceType)
}

func TestDetectPlaceholdersDeduplicates(t *testing.T) {
	content := "{{PLACEHOLDER:kv:CACHE}} and again {{PLACEHOLDER:kv:CACHE}}"
	require.Len(t, DetectPlaceholders(content), 1)
}

func TestProvisionResourcesAllSucceed(t *testing.T) {
	engine, workspace := newTestEngine(t)
	writeConfig(t, workspace, testConfig)

	engine.Register("kv", ProvisionerFunc(func(_ context.Context, binding string) (string, error) {
		return "kv-" + strings.ToLower(binding), nil
	}))
	engine.Register("d1", ProvisionerFunc(func(_ context.Context, binding string) (string, error) {
		return "d1-" + strings.ToLower(binding), nil
	}))

	result, err := engine.ProvisionResources(context.Background(), workspace)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.WranglerUpdated)
	assert.Len(t, result.Provisioned, 2)
	assert.Empty(t, result.Failed)
	assert.Equal(t, "kv-cache", result.Replacements["{{PLACEHOLDER:kv:CACHE}}"])

	rewritten, err := os.ReadFile(filepath.Join(workspace, ConfigFile))
	require.NoError(t, err)
	assert.NotContains(t, string(rewritten), "PLACEHOLDER")
	assert.Contains(t, string(rewritten), `"id": "kv-cache"`)
	assert.Contains(t, string(rewritten), `"database_id": "d1-db"`)
}

func TestProvisionResourcesPartialFailure(t *testing.T) {
	engine, workspace := newTestEngine(t)
	writeConfig(t, workspace, testConfig)

	engine.Register("kv", ProvisionerFunc(func(_ context.Context, binding string) (string, error) {
		return "kv-" + strings.ToLower(binding), nil
	}))
	engine.Register("d1", ProvisionerFunc(func(_ context.Context, _ string) (string, error) {
		return "", errors.New("quota exceeded")
	}))

	result, err := engine.ProvisionResources(context.Background(), workspace)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, result.Provisioned, 1)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "d1", result.Failed[0].ResourceType)
	assert.Equal(t, "quota exceeded", result.Failed[0].Error)

	// The succeeded replacement still lands; the failed token stays put.
	assert.True(t, result.WranglerUpdated)
	rewritten, err := os.ReadFile(filepath.Join(workspace, ConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(rewritten), `"id": "kv-cache"`)
	assert.Contains(t, string(rewritten), "{{PLACEHOLDER:d1:DB}}")
}

func TestProvisionResourcesUnknownType(t *testing.T) {
	engine, workspace := newTestEngine(t)
	writeConfig(t, workspace, `{"id": "{{PLACEHOLDER:r2:ASSETS}}"}`)

	result, err := engine.ProvisionResources(context.Background(), workspace)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Failed, 1)
	assert.Contains(t, result.Failed[0].Error, "no provisioner registered")
	assert.False(t, result.WranglerUpdated)
}

func TestProvisionResourcesNoConfig(t *testing.T) {
	engine, workspace := newTestEngine(t)

	result, err := engine.ProvisionResources(context.Background(), workspace)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Provisioned)
	assert.Empty(t, result.Failed)
	assert.False(t, result.WranglerUpdated)
}

func TestProvisionResourcesNoPlaceholders(t *testing.T) {
	engine, workspace := newTestEngine(t)
	writeConfig(t, workspace, `{"name": "acme-store"}`)

	result, err := engine.ProvisionResources(context.Background(), workspace)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.WranglerUpdated)
}

func TestLocalProvisionerMintsDistinctIDs(t *testing.T) {
	p := NewLocalProvisioner()
	a, err := p.Provision(context.Background(), "CACHE")
	require.NoError(t, err)
	b, err := p.Provision(context.Background(), "CACHE")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, "CACHE-"))
	assert.NotEqual(t, a, b)
}
