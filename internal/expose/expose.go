package expose

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/harunnryd/butai/internal/sandbox"
)

// tunnelURLRe matches the public URL the tunnel process prints once its
// edge connection is established.
var tunnelURLRe = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

const tunnelPollInterval = 250 * time.Millisecond

type Config struct {
	Environment   string
	RuntimeDomain string
	PublicDomain  string
	TunnelEnabled bool
	TunnelPrefer  bool
	TunnelCommand string
	TunnelTimeout time.Duration
}

// Exposure is the outcome of publishing an instance port. TunnelURL and
// TunnelProcessID are empty when the tunnel is disabled or timed out.
type Exposure struct {
	PreviewURL      string
	TunnelURL       string
	TunnelProcessID string
}

// EffectiveURL is the address handed to the user: the tunnel supersedes
// the published preview URL when a tunnel is preferred and available.
func (e *Exposure) EffectiveURL(preferTunnel bool) string {
	if preferTunnel && e.TunnelURL != "" {
		return e.TunnelURL
	}
	return e.PreviewURL
}

// Exposer publishes allocated ports as preview URLs and optionally
// fronts them with a tunnel process.
type Exposer struct {
	runtime sandbox.Runtime
	cfg     Config
}

func NewExposer(rt sandbox.Runtime, cfg Config) *Exposer {
	if cfg.TunnelTimeout <= 0 {
		cfg.TunnelTimeout = 20 * time.Second
	}
	if cfg.TunnelCommand == "" {
		cfg.TunnelCommand = "cloudflared"
	}
	return &Exposer{runtime: rt, cfg: cfg}
}

// Expose publishes the port through the sandbox runtime. Port publishing
// failure is fatal; tunnel failure degrades to a preview-only exposure.
func (e *Exposer) Expose(ctx context.Context, sessionID string, port int) (*Exposure, error) {
	previewURL, err := e.runtime.ExposePort(ctx, port)
	if err != nil {
		return nil, fmt.Errorf("expose port %d: %w", port, err)
	}

	if e.cfg.Environment != "local" && e.cfg.RuntimeDomain != "" {
		previewURL = strings.Replace(previewURL, e.cfg.RuntimeDomain, e.cfg.PublicDomain, 1)
	}

	exposure := &Exposure{PreviewURL: previewURL}

	if e.cfg.TunnelEnabled {
		exposure.TunnelURL, exposure.TunnelProcessID = e.startTunnel(ctx, sessionID, port)
	}

	return exposure, nil
}

// startTunnel launches the tunnel process and consumes its log stream
// until the tunnel URL appears. Resolves to an empty URL on timeout; the
// tunnel is best-effort.
func (e *Exposer) startTunnel(ctx context.Context, sessionID string, port int) (string, string) {
	command := fmt.Sprintf("%s tunnel --url http://localhost:%d", e.cfg.TunnelCommand, port)

	processID, err := e.runtime.StartProcess(ctx, sessionID, command)
	if err != nil {
		slog.Warn("Tunnel process failed to start", "port", port, "error", err)
		return "", ""
	}

	deadline := time.Now().Add(e.cfg.TunnelTimeout)
	var window strings.Builder

	for {
		logs, err := e.runtime.ProcessLogs(ctx, processID)
		if err != nil {
			slog.Warn("Tunnel log poll failed", "process_id", processID, "error", err)
		} else {
			window.WriteString(logs)
			if url := tunnelURLRe.FindString(window.String()); url != "" {
				slog.Info("Tunnel established", "process_id", processID, "url", url)
				return url, processID
			}
		}

		if time.Now().After(deadline) {
			slog.Warn("Tunnel URL discovery timed out", "process_id", processID, "timeout", e.cfg.TunnelTimeout)
			return "", processID
		}

		select {
		case <-ctx.Done():
			return "", processID
		case <-time.After(tunnelPollInterval):
		}
	}
}

// Unexpose withdraws a published port.
func (e *Exposer) Unexpose(ctx context.Context, port int) error {
	return e.runtime.UnexposePort(ctx, port)
}
