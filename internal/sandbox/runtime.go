package sandbox

import (
	"context"
	"time"
)

// Runtime is the boundary to the sandbox execution environment. Every call
// is an async I/O boundary with a timeout; implementations must be safe for
// concurrent use.
type Runtime interface {
	CreateSession(ctx context.Context, id, cwd string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	Exec(ctx context.Context, sessionID, command string, timeout time.Duration) (*ExecResult, error)

	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error

	StartProcess(ctx context.Context, sessionID, command string) (string, error)
	// ProcessLogs drains the process's capture window: it returns everything
	// captured since the previous call and resets the window.
	ProcessLogs(ctx context.Context, processID string) (string, error)
	ListProcesses(ctx context.Context) ([]ProcessInfo, error)
	KillProcess(ctx context.Context, processID string) error

	ExposePort(ctx context.Context, port int) (string, error)
	UnexposePort(ctx context.Context, port int) error
}
