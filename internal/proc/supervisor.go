package proc

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/harunnryd/butai/internal/logger"
	"github.com/harunnryd/butai/internal/sandbox"
)

// LaunchScript is the template-provided dev-server entry script.
const LaunchScript = "dev.sh"

// Supervisor starts the dev server for an instance and watches its logs
// for readiness. Readiness is best-effort: a poll timeout is logged as a
// warning and never fails the lifecycle.
type Supervisor struct {
	runtime      sandbox.Runtime
	matcher      *ReadinessMatcher
	pollInterval time.Duration
	timeout      time.Duration
}

func NewSupervisor(rt sandbox.Runtime, pollInterval, readinessTimeout time.Duration) *Supervisor {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if readinessTimeout <= 0 {
		readinessTimeout = 30 * time.Second
	}

	return &Supervisor{
		runtime:      rt,
		matcher:      NewReadinessMatcher(nil),
		pollInterval: pollInterval,
		timeout:      readinessTimeout,
	}
}

// StartDevServer rewrites the instance's launch script in place for the
// allocated port, starts it under the given session and waits for
// readiness. The process id is returned even when readiness times out.
func (s *Supervisor) StartDevServer(ctx context.Context, sessionID, workspace string, port int) (string, bool, error) {
	command, err := s.prepareLaunch(ctx, workspace, port)
	if err != nil {
		return "", false, err
	}

	processID, err := s.runtime.StartProcess(ctx, sessionID, command)
	if err != nil {
		return "", false, fmt.Errorf("start dev server: %w", err)
	}

	ready := s.WaitReady(ctx, processID)
	return processID, ready, nil
}

func (s *Supervisor) prepareLaunch(ctx context.Context, workspace string, port int) (string, error) {
	scriptPath := filepath.Join(workspace, LaunchScript)

	data, err := s.runtime.ReadFile(ctx, scriptPath)
	if err != nil {
		// Templates without a launch script run the conventional npm script.
		slog.Debug("Launch script absent, using npm run dev", "workspace", workspace)
		return fmt.Sprintf("npm run dev -- --port %d", port), nil
	}

	rewritten := RewriteLaunchScript(string(data), port)
	if rewritten != string(data) {
		if err := s.runtime.WriteFile(ctx, scriptPath, []byte(rewritten)); err != nil {
			return "", fmt.Errorf("rewrite launch script: %w", err)
		}
		slog.Debug("Launch script rewritten for port", "workspace", workspace, "port", port)
	}

	return "sh " + LaunchScript, nil
}

// WaitReady polls freshly captured logs against the readiness pattern
// set until a match or the timeout. Time-bounded, not attempt-bounded.
func (s *Supervisor) WaitReady(ctx context.Context, processID string) bool {
	deadline := time.Now().Add(s.timeout)

	for {
		logs, err := s.runtime.ProcessLogs(ctx, processID)
		if err != nil {
			slog.Warn("Readiness log poll failed", "process_id", processID, "error", err)
		} else if pattern, matched, ok := s.matcher.Match(logs); ok {
			slog.Info("Dev server ready",
				"instance_id", logger.GetInstanceID(ctx),
				"process_id", processID,
				"pattern", pattern,
				"matched", matched,
			)
			return true
		}

		if time.Now().After(deadline) {
			slog.Warn("Dev server readiness timed out, continuing anyway",
				"process_id", processID, "timeout", s.timeout)
			return false
		}

		select {
		case <-ctx.Done():
			slog.Warn("Readiness poll cancelled", "process_id", processID)
			return false
		case <-time.After(s.pollInterval):
		}
	}
}
