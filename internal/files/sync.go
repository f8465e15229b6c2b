package files

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/butai/internal/sandbox"
	"github.com/harunnryd/butai/internal/template"
)

const (
	// RedactedPlaceholder replaces the content of redacted files on read;
	// the file on disk is never altered.
	RedactedPlaceholder = "[REDACTED]"

	// ProtectedFileError is the per-file failure reported for writes to
	// template-protected paths.
	ProtectedFileError = "File is forbidden to be modified"

	// ImportantFilesManifest lists the default read set of a workspace.
	ImportantFilesManifest = "important_files.yaml"

	readTimeout  = 30 * time.Second
	writeTimeout = 120 * time.Second
)

type File struct {
	FilePath     string `json:"file_path"`
	FileContents string `json:"file_contents"`
}

type WriteResult struct {
	File    string `json:"file"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ReadResult struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Synchronizer performs batched reads and writes against one instance
// workspace, enforcing the template's protection sets.
type Synchronizer struct {
	runtime     sandbox.Runtime
	writer      BatchWriter
	sessionID   string
	workspace   string
	protections *template.Protections
}

func NewSynchronizer(rt sandbox.Runtime, sessionID, workspace string, protections *template.Protections, chunkSize int) *Synchronizer {
	if protections == nil {
		protections = &template.Protections{
			DontTouch: map[string]bool{},
			Redacted:  map[string]bool{},
		}
	}

	return &Synchronizer{
		runtime:     rt,
		writer:      NewScriptBatchWriter(rt, sessionID, workspace, chunkSize),
		sessionID:   sessionID,
		workspace:   workspace,
		protections: protections,
	}
}

// WriteFiles writes a batch of files. Protected paths are reported as
// individual failures, never aborting the batch, and the returned slice
// always has one entry per input file, in input order.
func (s *Synchronizer) WriteFiles(ctx context.Context, batch []File) ([]WriteResult, error) {
	results := make([]WriteResult, len(batch))
	allowed := make([]File, 0, len(batch))
	allowedIdx := make([]int, 0, len(batch))

	for i, f := range batch {
		clean, err := cleanRelPath(f.FilePath)
		if err != nil {
			results[i] = WriteResult{File: f.FilePath, Success: false, Error: err.Error()}
			continue
		}
		if s.protections.DontTouch[clean] {
			results[i] = WriteResult{File: f.FilePath, Success: false, Error: ProtectedFileError}
			continue
		}
		allowed = append(allowed, File{FilePath: clean, FileContents: f.FileContents})
		allowedIdx = append(allowedIdx, i)
	}

	if len(allowed) > 0 {
		written, err := s.writer.Write(ctx, allowed)
		if err != nil {
			slog.Error("Batch write failed", "workspace", s.workspace, "error", err)
			for j, idx := range allowedIdx {
				results[idx] = WriteResult{File: allowed[j].FilePath, Success: false, Error: err.Error()}
			}
			return results, nil
		}
		for j, idx := range allowedIdx {
			results[idx] = written[j]
		}
	}

	s.touchBuildTrigger(ctx, results)
	return results, nil
}

// touchBuildTrigger forces a dev-server rebuild after compiled-source
// writes; watchers pick the touched file up.
func (s *Synchronizer) touchBuildTrigger(ctx context.Context, results []WriteResult) {
	compiled := false
	for _, r := range results {
		if r.Success && isCompiledSource(r.File) {
			compiled = true
			break
		}
	}
	if !compiled {
		return
	}

	trigger := filepath.Join(s.workspace, "vite.config.ts")
	result, err := s.runtime.Exec(ctx, s.sessionID, fmt.Sprintf("test -f %q && touch %q", trigger, trigger), writeTimeout)
	if err != nil || result.ExitCode != 0 {
		slog.Debug("Build trigger touch skipped", "workspace", s.workspace)
	}
}

func isCompiledSource(path string) bool {
	switch filepath.Ext(path) {
	case ".ts", ".tsx", ".js", ".jsx", ".vue", ".svelte":
		return true
	}
	return false
}

// GetFiles reads the given paths concurrently. With no explicit paths the
// workspace's important-files manifest supplies the read set. When
// applyFilter is set, redacted paths return RedactedPlaceholder instead
// of their content.
func (s *Synchronizer) GetFiles(ctx context.Context, paths []string, applyFilter bool) ([]ReadResult, error) {
	if len(paths) == 0 {
		manifest, err := s.importantFiles(ctx)
		if err != nil {
			return nil, err
		}
		paths = manifest
	}

	results := make([]ReadResult, len(paths))
	var wg sync.WaitGroup

	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			results[i] = s.readOne(ctx, p, applyFilter)
		}(i, p)
	}
	wg.Wait()

	return results, nil
}

func (s *Synchronizer) readOne(ctx context.Context, path string, applyFilter bool) ReadResult {
	clean, err := cleanRelPath(path)
	if err != nil {
		return ReadResult{FilePath: path, Success: false, Error: err.Error()}
	}

	if applyFilter && s.protections.Redacted[clean] {
		return ReadResult{FilePath: path, Content: RedactedPlaceholder, Success: true}
	}

	data, err := s.runtime.ReadFile(ctx, filepath.Join(s.workspace, clean))
	if err != nil {
		return ReadResult{FilePath: path, Success: false, Error: err.Error()}
	}

	return ReadResult{FilePath: path, Content: string(data), Success: true}
}

func (s *Synchronizer) importantFiles(ctx context.Context) ([]string, error) {
	data, err := s.runtime.ReadFile(ctx, filepath.Join(s.workspace, ImportantFilesManifest))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ImportantFilesManifest, err)
	}
	return parseImportantFiles(data)
}

func cleanRelPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(trimmed) {
		return "", fmt.Errorf("absolute path not allowed: %s", path)
	}
	// Paths are spliced into generated shell scripts; quotes and
	// control characters would break out of the quoting.
	for _, r := range trimmed {
		if r == '\'' || r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("unsupported character in path: %q", path)
		}
	}

	clean := filepath.Clean(trimmed)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return clean, nil
}
