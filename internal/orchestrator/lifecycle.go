package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/butai/internal/concurrency"
	"github.com/harunnryd/butai/internal/config"
	"github.com/harunnryd/butai/internal/errors"
	"github.com/harunnryd/butai/internal/expose"
	"github.com/harunnryd/butai/internal/logger"
	"github.com/harunnryd/butai/internal/provision"
	"github.com/harunnryd/butai/internal/sandbox"
	"github.com/harunnryd/butai/internal/store"
)

// CreateInstance provisions a workspace from a template, installs its
// dependencies, starts the dev server and publishes it. Metadata is
// persisted only after setup succeeds; on any fatal step the workspace,
// port and processes are torn down and nothing is recorded.
func (o *Orchestrator) CreateInstance(ctx context.Context, req CreateRequest) *CreateResult {
	if strings.TrimSpace(req.Template) == "" || strings.TrimSpace(req.Project) == "" {
		return &CreateResult{Status: StatusFailed, Error: "template and project are required"}
	}

	runID := strings.ToLower(ulid.Make().String())
	ctx = logger.WithInstanceID(ctx, runID)
	o.locks.Lock(runID)
	defer o.locks.Unlock(runID)

	slog.Info("Creating instance",
		"run_id", runID,
		"trace_id", logger.GetTraceID(ctx),
		"template", req.Template,
		"project", req.Project,
	)

	if err := o.templates.EnsureTemplateExists(ctx, req.Template); err != nil {
		return o.createFailed(ctx, runID, 0, "", fmt.Sprintf("template setup: %v", err))
	}

	workspace := o.workspacePath(runID)
	if err := o.templates.Materialize(ctx, sandbox.DefaultSessionID, req.Template, workspace); err != nil {
		return o.createFailed(ctx, runID, 0, "", fmt.Sprintf("materialize workspace: %v", err))
	}

	protections, err := o.templates.LoadProtections(ctx, req.Template)
	if err != nil {
		return o.createFailed(ctx, runID, 0, "", fmt.Sprintf("load protections: %v", err))
	}

	sess, err := o.sessions.GetOrCreate(ctx, runID, workspace)
	if err != nil {
		return o.createFailed(ctx, runID, 0, "", fmt.Sprintf("instance session: %v", err))
	}

	if len(req.EnvVars) > 0 {
		if err := o.writeEnvFile(ctx, workspace, req.EnvVars); err != nil {
			return o.createFailed(ctx, runID, 0, "", fmt.Sprintf("write env vars: %v", err))
		}
	}

	installTimeout, _ := config.DurationOrDefault(o.cfg.Sandbox.InstallTimeout, config.DefaultInstallTimeout)
	result, err := o.runtime.Exec(ctx, sess.ID, o.cfg.Sandbox.InstallCommand, installTimeout)
	if err != nil {
		return o.createFailed(ctx, runID, 0, "", fmt.Sprintf("dependency install: %v", err))
	}
	if result.ExitCode != 0 {
		return o.createFailed(ctx, runID, 0, "", fmt.Sprintf("dependency install exited %d: %s",
			result.ExitCode, tail(result.Stderr, 2048)))
	}

	provisioning, err := o.provisioner.ProvisionResources(ctx, workspace)
	if err != nil {
		// Degraded: the instance still runs without backing resources.
		slog.Warn("Resource provisioning errored", "run_id", runID, "error", err)
		provisioning = &provision.Result{Success: false, Failed: nil}
	}
	o.storeInfraConfig(ctx, runID, workspace)

	port, err := o.allocator.Allocate()
	if err != nil {
		return o.createFailed(ctx, runID, 0, "", fmt.Sprintf("port allocation: %v", err))
	}

	devSess, err := o.sessions.GetOrCreate(ctx, devSessionID(runID), workspace)
	if err != nil {
		return o.createFailed(ctx, runID, port, "", fmt.Sprintf("dev server session: %v", err))
	}

	processID, ready, err := o.supervisor.StartDevServer(ctx, devSess.ID, workspace, port)
	if err != nil {
		return o.createFailed(ctx, runID, port, "", fmt.Sprintf("start dev server: %v", err))
	}

	exposure := &expose.Exposure{}
	if tunnelSess, err := o.sessions.GetOrCreate(ctx, tunnelSessionID(runID), workspace); err != nil {
		slog.Warn("Tunnel session unavailable, exposing without tunnel", "run_id", runID, "error", err)
	} else if exposure, err = o.exposer.Expose(ctx, tunnelSess.ID, port); err != nil {
		slog.Warn("Port exposure failed", "run_id", runID, "port", port, "error", err)
		exposure = &expose.Exposure{}
	}

	meta := &store.InstanceMetadata{
		RunID:           runID,
		TemplateName:    req.Template,
		ProjectName:     req.Project,
		StartTime:       time.Now().UTC(),
		PreviewURL:      exposure.PreviewURL,
		TunnelURL:       exposure.TunnelURL,
		ProcessID:       processID,
		TunnelProcessID: exposure.TunnelProcessID,
		AllocatedPort:   port,
		DontTouch:       sortedKeys(protections.DontTouch),
		Redacted:        sortedKeys(protections.Redacted),
	}
	if err := o.metadata.Put(meta); err != nil {
		o.killProcess(ctx, runID, exposure.TunnelProcessID)
		return o.createFailed(ctx, runID, port, processID, fmt.Sprintf("persist metadata: %v", err))
	}

	out := &CreateResult{
		Success:      true,
		Status:       StatusOk,
		RunID:        runID,
		PreviewURL:   exposure.EffectiveURL(o.cfg.Tunnel.Prefer),
		TunnelURL:    exposure.TunnelURL,
		ProcessID:    processID,
		Ready:        ready,
		Provisioning: provisioning,
	}
	if !ready || !provisioning.Success || (o.cfg.Tunnel.Enabled && exposure.TunnelURL == "") {
		out.Status = StatusPartial
	}

	if req.WebhookURL != "" {
		o.notifyWebhook(req.WebhookURL, out)
	}

	slog.Info("Instance created",
		"run_id", runID,
		"port", port,
		"process_id", processID,
		"ready", ready,
		"status", out.Status,
	)
	return out
}

// createFailed tears down everything a partially-completed create left
// behind. No metadata exists yet, so only runtime state needs cleanup.
func (o *Orchestrator) createFailed(ctx context.Context, runID string, port int, processID, msg string) *CreateResult {
	slog.Error("Instance creation failed", "run_id", runID, "error", msg)

	o.killProcess(ctx, runID, processID)
	if port > 0 {
		if err := o.exposer.Unexpose(ctx, port); err != nil {
			slog.Warn("Cleanup: unexpose failed", "run_id", runID, "port", port, "error", err)
		}
		o.allocator.Release(port)
	}
	o.removeWorkspace(ctx, runID)
	o.sessions.Invalidate(runID)

	return &CreateResult{Status: StatusFailed, Error: msg}
}

func (o *Orchestrator) killProcess(ctx context.Context, runID, processID string) {
	if processID == "" {
		return
	}
	if err := o.runtime.KillProcess(ctx, processID); err != nil {
		slog.Warn("Kill process failed", "run_id", runID, "process_id", processID, "error", err)
	}
}

// ShutdownInstance stops the dev server, withdraws the port and deletes
// the instance record. Runtime handles are cleared before the record
// goes away so a crash mid-shutdown never leaves a live process behind
// a deleted port reservation.
func (o *Orchestrator) ShutdownInstance(ctx context.Context, runID string) *ShutdownResult {
	o.locks.Lock(runID)
	defer o.locks.Unlock(runID)

	meta, err := o.metadata.Get(runID)
	if err != nil {
		if errors.IsCategory(err, errors.ErrNotFound) {
			return &ShutdownResult{Error: fmt.Sprintf("instance %s not found", runID)}
		}
		return &ShutdownResult{Error: fmt.Sprintf("instance %s: %v", runID, err)}
	}

	o.killProcess(ctx, runID, meta.ProcessID)
	o.killProcess(ctx, runID, meta.TunnelProcessID)

	if meta.AllocatedPort > 0 {
		if err := o.exposer.Unexpose(ctx, meta.AllocatedPort); err != nil {
			slog.Warn("Shutdown: unexpose failed", "run_id", runID, "port", meta.AllocatedPort, "error", err)
		}
		o.allocator.Release(meta.AllocatedPort)
	}

	meta.ProcessID = ""
	meta.TunnelProcessID = ""
	meta.AllocatedPort = 0
	meta.PreviewURL = ""
	meta.TunnelURL = ""
	if err := o.metadata.Put(meta); err != nil {
		slog.Warn("Shutdown: clearing runtime handles failed", "run_id", runID, "error", err)
	}

	if err := o.metadata.Delete(runID); err != nil {
		return &ShutdownResult{Error: fmt.Sprintf("delete instance record: %v", err)}
	}

	o.removeWorkspace(ctx, runID)
	o.sessions.Invalidate(runID)

	slog.Info("Instance shut down", "run_id", runID)
	return &ShutdownResult{Success: true}
}

func (o *Orchestrator) removeWorkspace(ctx context.Context, runID string) {
	workspace := o.workspacePath(runID)
	sess, err := o.sessions.GetOrCreate(ctx, sandbox.DefaultSessionID, "")
	if err != nil {
		slog.Warn("Workspace cleanup skipped, no staging session", "run_id", runID, "error", err)
		return
	}

	execTimeout, _ := config.DurationOrDefault(o.cfg.Sandbox.ExecTimeout, config.DefaultSandboxExecTimeout)
	if _, err := o.runtime.Exec(ctx, sess.ID, fmt.Sprintf("rm -rf %q", workspace), execTimeout); err != nil {
		slog.Warn("Workspace cleanup failed", "run_id", runID, "workspace", workspace, "error", err)
	}
}

// writeEnvFile appends caller-supplied variables to the workspace .env,
// preserving whatever the template shipped.
func (o *Orchestrator) writeEnvFile(ctx context.Context, workspace string, envVars map[string]string) error {
	path := filepath.Join(workspace, ".env")

	// Missing .env just means the template ships none.
	existing, _ := o.runtime.ReadFile(ctx, path)

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	for _, key := range sortedEnvKeys(envVars) {
		fmt.Fprintf(&buf, "%s=%s\n", key, envVars[key])
	}

	return o.runtime.WriteFile(ctx, path, buf.Bytes())
}

// storeInfraConfig snapshots the (possibly rewritten) infra config into
// the durable config store for the deploy pipeline.
func (o *Orchestrator) storeInfraConfig(ctx context.Context, runID, workspace string) {
	data, err := o.runtime.ReadFile(ctx, filepath.Join(workspace, provision.ConfigFile))
	if err != nil {
		slog.Debug("No infra config to store", "run_id", runID)
		return
	}
	if err := o.metadata.PutConfig(store.ConfigKey(runID), string(data)); err != nil {
		slog.Warn("Storing infra config failed", "run_id", runID, "error", err)
	}
}

func (o *Orchestrator) notifyWebhook(url string, result *CreateResult) {
	concurrency.SafeGo(func() {
		body, err := json.Marshal(result)
		if err != nil {
			return
		}
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil && errors.IsRetryable(o.mapper.MapError(err)) {
			time.Sleep(time.Second)
			resp, err = client.Post(url, "application/json", bytes.NewReader(body))
		}
		if err != nil {
			slog.Warn("Webhook notification failed", "url", url, "error", err)
			return
		}
		resp.Body.Close()
	}, nil)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedEnvKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
