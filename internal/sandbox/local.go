package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// LocalRuntime runs sessions and processes directly on the host under a
// base directory. It is the runtime used in local environments and in
// tests; remote sandbox runtimes satisfy the same Runtime interface.
type LocalRuntime struct {
	mu        sync.RWMutex
	baseDir   string
	sessions  map[string]*Session
	processes map[string]*localProcess
	exposed   map[int]string
	logWindow int
}

type localProcess struct {
	info ProcessInfo
	cmd  *exec.Cmd
	buf  *captureBuffer

	mu      sync.Mutex
	running bool
}

func NewLocalRuntime(baseDir string, logWindowBytes int) (*LocalRuntime, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("sandbox base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create sandbox base directory: %w", err)
	}
	if logWindowBytes <= 0 {
		logWindowBytes = 64 * 1024
	}

	return &LocalRuntime{
		baseDir:   baseDir,
		sessions:  make(map[string]*Session),
		processes: make(map[string]*localProcess),
		exposed:   make(map[int]string),
		logWindow: logWindowBytes,
	}, nil
}

func (rt *LocalRuntime) BaseDir() string {
	return rt.baseDir
}

func (rt *LocalRuntime) CreateSession(ctx context.Context, id, cwd string) (*Session, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.sessions[id]; ok {
		return nil, fmt.Errorf("session %s already exists", id)
	}

	if cwd != "" {
		if err := os.MkdirAll(cwd, 0755); err != nil {
			return nil, fmt.Errorf("create session cwd: %w", err)
		}
	}

	sess := &Session{ID: id, Cwd: cwd, CreatedAt: time.Now()}
	rt.sessions[id] = sess
	slog.Debug("Session created", "session_id", id, "cwd", cwd)

	return sess, nil
}

func (rt *LocalRuntime) GetSession(ctx context.Context, id string) (*Session, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	sess, ok := rt.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return sess, nil
}

func (rt *LocalRuntime) Exec(ctx context.Context, sessionID, command string, timeout time.Duration) (*ExecResult, error) {
	sess, err := rt.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// A persistent shell keeps its working directory between commands;
	// a bare "cd" is applied to the session instead of spawned.
	if target, ok := parseChdir(command); ok {
		if _, err := os.Stat(target); err != nil {
			return &ExecResult{Stderr: fmt.Sprintf("cd: %s: no such directory", target), ExitCode: 1}, nil
		}
		rt.mu.Lock()
		sess.Cwd = target
		rt.mu.Unlock()
		return &ExecResult{ExitCode: 0}, nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rt.mu.RLock()
	cwd := sess.Cwd
	rt.mu.RUnlock()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := &ExecResult{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("exec timeout: %w", ctx.Err())
		}
		return nil, fmt.Errorf("exec command: %w", runErr)
	}

	return result, nil
}

func (rt *LocalRuntime) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (rt *LocalRuntime) WriteFile(ctx context.Context, path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

func (rt *LocalRuntime) StartProcess(ctx context.Context, sessionID, command string) (string, error) {
	sess, err := rt.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	rt.mu.RLock()
	cwd := sess.Cwd
	rt.mu.RUnlock()

	buf := newCaptureBuffer(rt.logWindow)
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = cwd
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start process: %w", err)
	}

	processID := ulid.Make().String()
	proc := &localProcess{
		info: ProcessInfo{
			ID:        processID,
			SessionID: sessionID,
			Command:   command,
			Running:   true,
			StartedAt: time.Now(),
		},
		cmd:     cmd,
		buf:     buf,
		running: true,
	}

	rt.mu.Lock()
	rt.processes[processID] = proc
	rt.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		proc.mu.Lock()
		proc.running = false
		proc.mu.Unlock()
	}()

	slog.Debug("Process started", "process_id", processID, "session_id", sessionID, "command", command)
	return processID, nil
}

func (rt *LocalRuntime) ProcessLogs(ctx context.Context, processID string) (string, error) {
	rt.mu.RLock()
	proc, ok := rt.processes[processID]
	rt.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("process %s not found", processID)
	}
	return proc.buf.Drain(), nil
}

func (rt *LocalRuntime) ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	infos := make([]ProcessInfo, 0, len(rt.processes))
	for _, proc := range rt.processes {
		info := proc.info
		proc.mu.Lock()
		info.Running = proc.running
		proc.mu.Unlock()
		infos = append(infos, info)
	}
	return infos, nil
}

func (rt *LocalRuntime) KillProcess(ctx context.Context, processID string) error {
	rt.mu.Lock()
	proc, ok := rt.processes[processID]
	if ok {
		delete(rt.processes, processID)
	}
	rt.mu.Unlock()

	if !ok {
		return fmt.Errorf("process %s not found", processID)
	}

	proc.mu.Lock()
	running := proc.running
	proc.mu.Unlock()

	if running && proc.cmd.Process != nil {
		if err := proc.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill process: %w", err)
		}
	}
	return nil
}

func (rt *LocalRuntime) ExposePort(ctx context.Context, port int) (string, error) {
	url := fmt.Sprintf("http://localhost:%d", port)
	rt.mu.Lock()
	rt.exposed[port] = url
	rt.mu.Unlock()
	return url, nil
}

func (rt *LocalRuntime) UnexposePort(ctx context.Context, port int) error {
	rt.mu.Lock()
	delete(rt.exposed, port)
	rt.mu.Unlock()
	return nil
}

func parseChdir(command string) (string, bool) {
	trimmed := strings.TrimSpace(command)
	if !strings.HasPrefix(trimmed, "cd ") {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "cd "))
	if rest == "" || strings.ContainsAny(rest, "&|;$`") {
		return "", false
	}
	return strings.Trim(rest, `"'`), true
}

// captureBuffer is a bounded log window. Writes past the limit evict the
// oldest bytes; Drain returns the window and resets it.
type captureBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newCaptureBuffer(max int) *captureBuffer {
	return &captureBuffer{max: max}
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *captureBuffer) Drain() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := string(b.buf)
	b.buf = nil
	return out
}
