package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/butai/internal/sandbox"
)

// RuntimeError is one error captured by the in-sandbox monitoring CLI.
type RuntimeError struct {
	Message   string `json:"message"`
	Stack     string `json:"stack,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Monitor shells out to the monitoring CLI running inside the sandbox.
// It is exec-based on purpose: the CLI is part of the instance image,
// not a library this process links.
type Monitor struct {
	runtime sandbox.Runtime
	command string
	timeout time.Duration
}

func NewMonitor(rt sandbox.Runtime, command string, timeout time.Duration) *Monitor {
	if command == "" {
		command = "butai-monitor"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Monitor{runtime: rt, command: command, timeout: timeout}
}

// Errors lists the captured runtime errors. With clear set the CLI
// resets its buffer after reporting (read-and-reset).
func (m *Monitor) Errors(ctx context.Context, sessionID string, clear bool) ([]RuntimeError, error) {
	command := m.command + " errors list"
	if clear {
		command += " --clear"
	}

	result, err := m.runtime.Exec(ctx, sessionID, command, m.timeout)
	if err != nil {
		return nil, fmt.Errorf("monitor errors list: %w", err)
	}
	if result.ExitCode != 0 {
		return nil, fmt.Errorf("monitor errors list exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	trimmed := strings.TrimSpace(result.Stdout)
	if trimmed == "" {
		return []RuntimeError{}, nil
	}

	var errs []RuntimeError
	if err := json.Unmarshal([]byte(trimmed), &errs); err != nil {
		return nil, fmt.Errorf("parse monitor output: %w", err)
	}
	return errs, nil
}

// ClearErrors wipes the captured errors. The CLI requires an explicit
// confirm flag for destructive commands.
func (m *Monitor) ClearErrors(ctx context.Context, sessionID string) error {
	result, err := m.runtime.Exec(ctx, sessionID, m.command+" errors clear --confirm", m.timeout)
	if err != nil {
		return fmt.Errorf("monitor errors clear: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("monitor errors clear exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Logs fetches the instance's captured application logs as raw text.
func (m *Monitor) Logs(ctx context.Context, sessionID string) (string, error) {
	result, err := m.runtime.Exec(ctx, sessionID, m.command+" logs get", m.timeout)
	if err != nil {
		return "", fmt.Errorf("monitor logs get: %w", err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("monitor logs get exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return result.Stdout, nil
}
