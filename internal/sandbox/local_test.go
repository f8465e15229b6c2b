package sandbox

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalRuntimeExec(t *testing.T) {
	rt, err := NewLocalRuntime(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewLocalRuntime failed: %v", err)
	}

	cwd := filepath.Join(rt.BaseDir(), "i-exec")
	if _, err := rt.CreateSession(context.Background(), "i-exec", cwd); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	result, err := rt.Exec(context.Background(), "i-exec", "printf hello", 5*time.Second)
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if result.Stdout != "hello" {
		t.Fatalf("stdout = %q, want %q", result.Stdout, "hello")
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestLocalRuntimeExecNonZeroExit(t *testing.T) {
	rt, err := NewLocalRuntime(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewLocalRuntime failed: %v", err)
	}

	cwd := filepath.Join(rt.BaseDir(), "i-fail")
	if _, err := rt.CreateSession(context.Background(), "i-fail", cwd); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	result, err := rt.Exec(context.Background(), "i-fail", "exit 3", 5*time.Second)
	if err != nil {
		t.Fatalf("Exec returned error for non-zero exit: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestLocalRuntimeChdirPersists(t *testing.T) {
	rt, err := NewLocalRuntime(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewLocalRuntime failed: %v", err)
	}

	cwd := filepath.Join(rt.BaseDir(), "i-cd")
	sub := filepath.Join(cwd, "sub")
	if _, err := rt.CreateSession(context.Background(), "i-cd", sub); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := rt.Exec(context.Background(), "i-cd", "cd "+cwd, 5*time.Second); err != nil {
		t.Fatalf("cd failed: %v", err)
	}

	result, err := rt.Exec(context.Background(), "i-cd", "pwd", 5*time.Second)
	if err != nil {
		t.Fatalf("pwd failed: %v", err)
	}

	got, want := result.Stdout, cwd
	if resolved, err := filepath.EvalSymlinks(got); err == nil {
		got = resolved
	}
	if resolved, err := filepath.EvalSymlinks(want); err == nil {
		want = resolved
	}
	if got != want {
		t.Fatalf("pwd after cd = %q, want %q", got, want)
	}
}

func TestLocalRuntimeProcessLogsReset(t *testing.T) {
	rt, err := NewLocalRuntime(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewLocalRuntime failed: %v", err)
	}

	cwd := filepath.Join(rt.BaseDir(), "i-logs")
	if _, err := rt.CreateSession(context.Background(), "i-logs", cwd); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	pid, err := rt.StartProcess(context.Background(), "i-logs", "echo first; sleep 5")
	if err != nil {
		t.Fatalf("StartProcess failed: %v", err)
	}
	t.Cleanup(func() {
		_ = rt.KillProcess(context.Background(), pid)
	})

	var logs string
	for i := 0; i < 50; i++ {
		logs, err = rt.ProcessLogs(context.Background(), pid)
		if err != nil {
			t.Fatalf("ProcessLogs failed: %v", err)
		}
		if strings.Contains(logs, "first") {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !strings.Contains(logs, "first") {
		t.Fatalf("expected captured output, got %q", logs)
	}

	// The capture window resets after each drain.
	logs, err = rt.ProcessLogs(context.Background(), pid)
	if err != nil {
		t.Fatalf("ProcessLogs failed: %v", err)
	}
	if logs != "" {
		t.Fatalf("expected empty window after drain, got %q", logs)
	}
}

func TestCaptureBufferBounded(t *testing.T) {
	buf := newCaptureBuffer(8)
	buf.Write([]byte("0123456789abcdef"))

	got := buf.Drain()
	if got != "89abcdef" {
		t.Fatalf("window = %q, want most recent 8 bytes", got)
	}
}
