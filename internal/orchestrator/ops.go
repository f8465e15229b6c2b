package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/butai/internal/config"
	"github.com/harunnryd/butai/internal/files"
	"github.com/harunnryd/butai/internal/store"
	"github.com/harunnryd/butai/internal/template"
)

// instanceSession resolves the instance's cached session, re-binding it
// to the workspace directory.
func (o *Orchestrator) instanceSession(ctx context.Context, meta *store.InstanceMetadata) (string, error) {
	sess, err := o.sessions.GetOrCreate(ctx, meta.RunID, o.workspacePath(meta.RunID))
	if err != nil {
		return "", fmt.Errorf("instance session: %w", err)
	}
	return sess.ID, nil
}

func (o *Orchestrator) synchronizer(ctx context.Context, runID string) (*files.Synchronizer, error) {
	meta, err := o.metadata.Get(runID)
	if err != nil {
		return nil, err
	}
	sessionID, err := o.instanceSession(ctx, meta)
	if err != nil {
		return nil, err
	}

	protections := &template.Protections{
		DontTouch: toSet(meta.DontTouch),
		Redacted:  toSet(meta.Redacted),
	}
	return files.NewSynchronizer(o.runtime, sessionID, o.workspacePath(runID), protections, o.cfg.Sandbox.TransferChunkSize), nil
}

// WriteFiles applies a batch of file writes to the instance workspace.
// Per-file failures land in Results; Success reflects only whether the
// batch could be attempted at all.
func (o *Orchestrator) WriteFiles(ctx context.Context, runID string, batch []files.File) *WriteFilesResult {
	o.locks.Lock(runID)
	defer o.locks.Unlock(runID)

	sync, err := o.synchronizer(ctx, runID)
	if err != nil {
		return &WriteFilesResult{Error: o.opError("prepare workspace sync", err)}
	}

	results, err := sync.WriteFiles(ctx, batch)
	if err != nil {
		return &WriteFilesResult{Error: o.opError("write files", err)}
	}
	return &WriteFilesResult{Success: true, Results: results}
}

// GetFiles reads files from the workspace. A nil path list reads the
// template's important-files manifest; applyFilter enables redaction.
func (o *Orchestrator) GetFiles(ctx context.Context, runID string, paths []string, applyFilter bool) *GetFilesResult {
	sync, err := o.synchronizer(ctx, runID)
	if err != nil {
		return &GetFilesResult{Error: o.opError("prepare workspace sync", err)}
	}

	results, err := sync.GetFiles(ctx, paths, applyFilter)
	if err != nil {
		return &GetFilesResult{Error: o.opError("read files", err)}
	}
	return &GetFilesResult{Success: true, Files: results}
}

// ExecuteCommands runs shell commands sequentially in the instance
// workspace. A non-zero exit marks that command failed but does not stop
// the sequence.
func (o *Orchestrator) ExecuteCommands(ctx context.Context, runID string, commands []string, timeout string) *ExecuteResult {
	o.locks.Lock(runID)
	defer o.locks.Unlock(runID)

	meta, err := o.metadata.Get(runID)
	if err != nil {
		return &ExecuteResult{Error: err.Error()}
	}
	sessionID, err := o.instanceSession(ctx, meta)
	if err != nil {
		return &ExecuteResult{Error: err.Error()}
	}

	execTimeout, err := config.DurationOrDefault(timeout, config.DefaultSandboxExecTimeout)
	if err != nil {
		return &ExecuteResult{Error: fmt.Sprintf("invalid timeout: %v", err)}
	}

	out := &ExecuteResult{Success: true, Results: make([]CommandResult, 0, len(commands))}
	for _, command := range commands {
		result, err := o.runtime.Exec(ctx, sessionID, command, execTimeout)
		if err != nil {
			out.Results = append(out.Results, CommandResult{Command: command, Stderr: err.Error(), ExitCode: -1})
			continue
		}
		out.Results = append(out.Results, CommandResult{
			Command:  command,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: result.ExitCode,
			Success:  result.ExitCode == 0,
		})
	}
	return out
}

// RunStaticAnalysis lints and type-checks the instance workspace.
func (o *Orchestrator) RunStaticAnalysis(ctx context.Context, runID string) *AnalysisResult {
	meta, err := o.metadata.Get(runID)
	if err != nil {
		return &AnalysisResult{Error: err.Error()}
	}
	sessionID, err := o.instanceSession(ctx, meta)
	if err != nil {
		return &AnalysisResult{Error: err.Error()}
	}

	report, err := o.analyzer.Run(ctx, sessionID)
	if err != nil {
		return &AnalysisResult{Error: o.opError("run analysis", err)}
	}
	return &AnalysisResult{Success: true, Report: report}
}

// GetInstanceErrors fetches captured runtime errors, optionally
// resetting the monitor's buffer on read.
func (o *Orchestrator) GetInstanceErrors(ctx context.Context, runID string, clearAfterRead bool) *ErrorsResult {
	meta, err := o.metadata.Get(runID)
	if err != nil {
		return &ErrorsResult{Error: err.Error()}
	}
	sessionID, err := o.instanceSession(ctx, meta)
	if err != nil {
		return &ErrorsResult{Error: err.Error()}
	}

	errs, err := o.monitor.Errors(ctx, sessionID, clearAfterRead)
	if err != nil {
		return &ErrorsResult{Error: o.opError("collect runtime errors", err)}
	}
	return &ErrorsResult{Success: true, Errors: errs}
}

// ClearInstanceErrors wipes the monitor's captured errors.
func (o *Orchestrator) ClearInstanceErrors(ctx context.Context, runID string) *ErrorsResult {
	meta, err := o.metadata.Get(runID)
	if err != nil {
		return &ErrorsResult{Error: err.Error()}
	}
	sessionID, err := o.instanceSession(ctx, meta)
	if err != nil {
		return &ErrorsResult{Error: err.Error()}
	}

	if err := o.monitor.ClearErrors(ctx, sessionID); err != nil {
		return &ErrorsResult{Error: o.opError("clear runtime errors", err)}
	}
	return &ErrorsResult{Success: true}
}

// GetLogs returns the instance's captured application logs.
func (o *Orchestrator) GetLogs(ctx context.Context, runID string) *LogsResult {
	meta, err := o.metadata.Get(runID)
	if err != nil {
		return &LogsResult{Error: err.Error()}
	}
	sessionID, err := o.instanceSession(ctx, meta)
	if err != nil {
		return &LogsResult{Error: err.Error()}
	}

	logs, err := o.monitor.Logs(ctx, sessionID)
	if err != nil {
		return &LogsResult{Error: o.opError("fetch logs", err)}
	}
	return &LogsResult{Success: true, Logs: logs}
}

// GetInstanceStatus reports the instance's metadata plus whether its dev
// server process is still alive.
func (o *Orchestrator) GetInstanceStatus(ctx context.Context, runID string) *StatusResult {
	meta, err := o.metadata.Get(runID)
	if err != nil {
		return &StatusResult{Error: err.Error()}
	}
	return &StatusResult{Success: true, Instance: o.describe(ctx, meta)}
}

// GetInstanceDetails is the detail view; it carries the same fields as
// status today but reads through the cache independently.
func (o *Orchestrator) GetInstanceDetails(ctx context.Context, runID string) *StatusResult {
	return o.GetInstanceStatus(ctx, runID)
}

// ListAllInstances enumerates every stored instance.
func (o *Orchestrator) ListAllInstances(ctx context.Context) *ListResult {
	metas, err := o.metadata.List()
	if err != nil {
		return &ListResult{Error: err.Error()}
	}

	out := &ListResult{Success: true, Instances: make([]InstanceStatus, 0, len(metas))}
	for _, meta := range metas {
		out.Instances = append(out.Instances, *o.describe(ctx, meta))
	}
	return out
}

func (o *Orchestrator) describe(ctx context.Context, meta *store.InstanceMetadata) *InstanceStatus {
	return &InstanceStatus{
		RunID:         meta.RunID,
		TemplateName:  meta.TemplateName,
		ProjectName:   meta.ProjectName,
		StartTime:     meta.StartTime,
		PreviewURL:    meta.PreviewURL,
		TunnelURL:     meta.TunnelURL,
		ProcessID:     meta.ProcessID,
		AllocatedPort: meta.AllocatedPort,
		Running:       o.processRunning(ctx, meta.ProcessID),
	}
}

func (o *Orchestrator) processRunning(ctx context.Context, processID string) bool {
	if processID == "" {
		return false
	}
	procs, err := o.runtime.ListProcesses(ctx)
	if err != nil {
		slog.Warn("Listing processes failed", "error", err)
		return false
	}
	for _, p := range procs {
		if p.ID == processID {
			return true
		}
	}
	return false
}

// UpdateProjectName renames the project and persists the record.
func (o *Orchestrator) UpdateProjectName(ctx context.Context, runID, projectName string) *StatusResult {
	o.locks.Lock(runID)
	defer o.locks.Unlock(runID)

	meta, err := o.metadata.Get(runID)
	if err != nil {
		return &StatusResult{Error: err.Error()}
	}

	meta.ProjectName = projectName
	if err := o.metadata.Put(meta); err != nil {
		return &StatusResult{Error: err.Error()}
	}
	return &StatusResult{Success: true, Instance: o.describe(ctx, meta)}
}

// DeployToDispatch builds and ships the instance to the dispatch
// namespace, returning the public URL.
func (o *Orchestrator) DeployToDispatch(ctx context.Context, runID, subdomain string) *DeployResult {
	o.locks.Lock(runID)
	defer o.locks.Unlock(runID)

	meta, err := o.metadata.Get(runID)
	if err != nil {
		return &DeployResult{Error: err.Error()}
	}
	sessionID, err := o.instanceSession(ctx, meta)
	if err != nil {
		return &DeployResult{Error: err.Error()}
	}

	url, err := o.deployer.Deploy(ctx, sessionID, o.workspacePath(runID), runID, meta.ProjectName, subdomain)
	if err != nil {
		return &DeployResult{Error: o.opError("deploy", err)}
	}
	return &DeployResult{Success: true, DeployedURL: url}
}

func toSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}
