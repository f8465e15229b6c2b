package expose

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harunnryd/butai/internal/sandbox"
)

func newTestRuntime(t *testing.T) *sandbox.LocalRuntime {
	t.Helper()
	rt, err := sandbox.NewLocalRuntime(t.TempDir(), 64*1024)
	require.NoError(t, err)
	return rt
}

func TestExposeLocalEnvironment(t *testing.T) {
	rt := newTestRuntime(t)
	exposer := NewExposer(rt, Config{
		Environment:   "local",
		RuntimeDomain: "localhost",
		PublicDomain:  "preview.example.com",
	})

	exposure, err := exposer.Expose(context.Background(), "default", 8123)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8123", exposure.PreviewURL)
	require.Empty(t, exposure.TunnelURL)
	require.Empty(t, exposure.TunnelProcessID)
}

func TestExposeRewritesHostname(t *testing.T) {
	rt := newTestRuntime(t)
	exposer := NewExposer(rt, Config{
		Environment:   "production",
		RuntimeDomain: "localhost",
		PublicDomain:  "preview.example.com",
	})

	exposure, err := exposer.Expose(context.Background(), "default", 8123)
	require.NoError(t, err)
	require.Equal(t, "http://preview.example.com:8123", exposure.PreviewURL)
}

func TestExposeWithTunnel(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.CreateSession(context.Background(), "default", "")
	require.NoError(t, err)

	exposer := NewExposer(rt, Config{
		Environment:   "local",
		TunnelEnabled: true,
		TunnelCommand: "echo 'https://demo-app.trycloudflare.com' #",
		TunnelTimeout: 5 * time.Second,
	})

	exposure, err := exposer.Expose(context.Background(), "default", 8123)
	require.NoError(t, err)
	require.Equal(t, "https://demo-app.trycloudflare.com", exposure.TunnelURL)
	require.NotEmpty(t, exposure.TunnelProcessID)
}

func TestExposeTunnelTimeoutIsNonFatal(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.CreateSession(context.Background(), "default", "")
	require.NoError(t, err)

	exposer := NewExposer(rt, Config{
		Environment:   "local",
		TunnelEnabled: true,
		TunnelCommand: "sleep 5 #",
		TunnelTimeout: 600 * time.Millisecond,
	})

	exposure, err := exposer.Expose(context.Background(), "default", 8123)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8123", exposure.PreviewURL)
	require.Empty(t, exposure.TunnelURL)
	require.NotEmpty(t, exposure.TunnelProcessID)
}

func TestEffectiveURLPrefersTunnel(t *testing.T) {
	exposure := &Exposure{PreviewURL: "http://localhost:8123", TunnelURL: "https://demo.trycloudflare.com"}
	require.Equal(t, "https://demo.trycloudflare.com", exposure.EffectiveURL(true))
	require.Equal(t, "http://localhost:8123", exposure.EffectiveURL(false))

	noTunnel := &Exposure{PreviewURL: "http://localhost:8123"}
	require.Equal(t, "http://localhost:8123", noTunnel.EffectiveURL(true))
}
