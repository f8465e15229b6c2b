package files

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/butai/internal/sandbox"
)

// BatchWriter applies a batch of file writes against a workspace. Every
// implementation must return exactly one result per input file, in input
// order, regardless of individual failures.
type BatchWriter interface {
	Write(ctx context.Context, batch []File) ([]WriteResult, error)
}

// ScriptBatchWriter batches all writes into one generated shell script
// executed in a single exec call. File contents travel as bounded
// base64 chunks appended line by line, and each file records an OK/FAIL
// marker that is parsed back into per-file results.
type ScriptBatchWriter struct {
	runtime   execRuntime
	sessionID string
	workspace string
	chunkSize int
}

type execRuntime interface {
	Exec(ctx context.Context, sessionID, command string, timeout time.Duration) (*sandbox.ExecResult, error)
}

func NewScriptBatchWriter(rt execRuntime, sessionID, workspace string, chunkSize int) *ScriptBatchWriter {
	if chunkSize <= 0 {
		chunkSize = 48 * 1024
	}
	return &ScriptBatchWriter{
		runtime:   rt,
		sessionID: sessionID,
		workspace: workspace,
		chunkSize: chunkSize,
	}
}

const (
	okMarker   = "BUTAI_OK:"
	failMarker = "BUTAI_FAIL:"
)

func (w *ScriptBatchWriter) Write(ctx context.Context, batch []File) ([]WriteResult, error) {
	if len(batch) == 0 {
		return []WriteResult{}, nil
	}

	script := w.buildScript(batch)

	result, err := w.runtime.Exec(ctx, w.sessionID, script, writeTimeout)
	if err != nil {
		return nil, fmt.Errorf("execute batch write script: %w", err)
	}

	markers := parseMarkers(result.Stdout)
	results := make([]WriteResult, len(batch))
	for i, f := range batch {
		state, ok := markers[f.FilePath]
		switch {
		case !ok:
			results[i] = WriteResult{File: f.FilePath, Success: false, Error: "no result marker for file"}
		case state:
			results[i] = WriteResult{File: f.FilePath, Success: true}
		default:
			results[i] = WriteResult{File: f.FilePath, Success: false, Error: "write failed"}
		}
	}

	return results, nil
}

func (w *ScriptBatchWriter) buildScript(batch []File) string {
	var b strings.Builder
	b.WriteString("set +e\n")

	for _, f := range batch {
		abs := filepath.Join(w.workspace, f.FilePath)
		tmp := abs + ".b64tmp"
		encoded := base64.StdEncoding.EncodeToString([]byte(f.FileContents))

		fmt.Fprintf(&b, "mkdir -p %q\n", filepath.Dir(abs))
		fmt.Fprintf(&b, "rm -f %q\n", tmp)
		if encoded == "" {
			fmt.Fprintf(&b, ": > %q\n", tmp)
		}
		for start := 0; start < len(encoded); start += w.chunkSize {
			end := start + w.chunkSize
			if end > len(encoded) {
				end = len(encoded)
			}
			fmt.Fprintf(&b, "printf '%%s' '%s' >> %q\n", encoded[start:end], tmp)
		}
		fmt.Fprintf(&b, "if base64 -d < %q > %q && rm -f %q; then echo '%s%s'; else echo '%s%s'; fi\n",
			tmp, abs, tmp, okMarker, f.FilePath, failMarker, f.FilePath)
	}

	return b.String()
}

func parseMarkers(stdout string) map[string]bool {
	markers := make(map[string]bool)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, okMarker):
			markers[strings.TrimPrefix(line, okMarker)] = true
		case strings.HasPrefix(line, failMarker):
			markers[strings.TrimPrefix(line, failMarker)] = false
		}
	}
	return markers
}
