package template

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/butai/internal/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTemplateZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestProvisioner(t *testing.T, archive []byte) (*Provisioner, *sandbox.LocalRuntime) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/base-template.zip" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(archive)
	}))
	t.Cleanup(server.Close)

	base := t.TempDir()
	rt, err := sandbox.NewLocalRuntime(base, 0)
	require.NoError(t, err)

	sessions := sandbox.NewSessionManager(rt, sandbox.AllocationOneToOne, 0)
	staging := filepath.Join(base, "templates")
	return NewProvisioner(rt, sessions, server.URL, staging, ".butai-template", 128, 10*time.Second), rt
}

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestEnsureTemplateExistsFetchesAndExtracts(t *testing.T) {
	requireTool(t, "unzip")
	requireTool(t, "base64")

	archive := buildTemplateZip(t, map[string]string{
		"package.json":         `{"name":"base"}`,
		"src/index.ts":         "export {}",
		"donttouch_files.json": `["package.json"]`,
		"redacted_files.json":  `[".env"]`,
	})

	p, _ := newTestProvisioner(t, archive)

	err := p.EnsureTemplateExists(context.Background(), "base-template")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(p.Dir("base-template"), "package.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"name":"base"}`, string(data))

	// Second call sees the marker and does not refetch.
	require.NoError(t, p.EnsureTemplateExists(context.Background(), "base-template"))
}

func TestEnsureTemplateExistsFetchFailureIsFatal(t *testing.T) {
	p, _ := newTestProvisioner(t, nil)

	err := p.EnsureTemplateExists(context.Background(), "missing-template")
	require.Error(t, err)
}

func TestLoadProtections(t *testing.T) {
	requireTool(t, "unzip")
	requireTool(t, "base64")

	archive := buildTemplateZip(t, map[string]string{
		"donttouch_files.json": `["package.json", "wrangler.jsonc"]`,
		"redacted_files.json":  `[".env", ".dev.vars"]`,
	})

	p, _ := newTestProvisioner(t, archive)
	require.NoError(t, p.EnsureTemplateExists(context.Background(), "base-template"))

	protections, err := p.LoadProtections(context.Background(), "base-template")
	require.NoError(t, err)

	assert.True(t, protections.DontTouch["package.json"])
	assert.True(t, protections.DontTouch["wrangler.jsonc"])
	assert.False(t, protections.DontTouch[".env"])
	assert.True(t, protections.Redacted[".env"])
	assert.True(t, protections.Redacted[".dev.vars"])
}

func TestLoadProtectionsMissingManifests(t *testing.T) {
	requireTool(t, "unzip")
	requireTool(t, "base64")

	archive := buildTemplateZip(t, map[string]string{"index.html": "<html></html>"})

	p, _ := newTestProvisioner(t, archive)
	require.NoError(t, p.EnsureTemplateExists(context.Background(), "base-template"))

	protections, err := p.LoadProtections(context.Background(), "base-template")
	require.NoError(t, err)
	assert.Empty(t, protections.DontTouch)
	assert.Empty(t, protections.Redacted)
}

func TestMaterialize(t *testing.T) {
	requireTool(t, "unzip")
	requireTool(t, "base64")

	archive := buildTemplateZip(t, map[string]string{"src/main.ts": "console.log(1)"})

	p, rt := newTestProvisioner(t, archive)
	require.NoError(t, p.EnsureTemplateExists(context.Background(), "base-template"))

	workspace := filepath.Join(rt.BaseDir(), "i-test")
	require.NoError(t, p.Materialize(context.Background(), sandbox.DefaultSessionID, "base-template", workspace))

	data, err := os.ReadFile(filepath.Join(workspace, "src", "main.ts"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))
}
