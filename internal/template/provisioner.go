package template

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"time"

	"github.com/harunnryd/butai/internal/errors"
	"github.com/harunnryd/butai/internal/sandbox"
)

const (
	DonttouchManifest = "donttouch_files.json"
	RedactedManifest  = "redacted_files.json"

	execTimeout = 60 * time.Second
)

// Provisioner stages packaged project templates inside the sandbox and
// loads their protection metadata. A template is fetched once and reused
// for every instance created from it.
type Provisioner struct {
	runtime    sandbox.Runtime
	sessions   *sandbox.SessionManager
	client     *http.Client
	baseURL    string
	stagingDir string
	markerFile string
	chunkSize  int
}

func NewProvisioner(rt sandbox.Runtime, sessions *sandbox.SessionManager, baseURL, stagingDir, markerFile string, chunkSize int, fetchTimeout time.Duration) *Provisioner {
	if chunkSize <= 0 {
		chunkSize = 48 * 1024
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 60 * time.Second
	}

	return &Provisioner{
		runtime:    rt,
		sessions:   sessions,
		client:     &http.Client{Timeout: fetchTimeout},
		baseURL:    baseURL,
		stagingDir: stagingDir,
		markerFile: markerFile,
		chunkSize:  chunkSize,
	}
}

// Dir returns the staging directory of a template.
func (p *Provisioner) Dir(templateName string) string {
	return filepath.Join(p.stagingDir, templateName)
}

// EnsureTemplateExists makes the named template available in the sandbox,
// fetching and extracting it when the marker file is absent. Fetch or
// extract failure is fatal to instance creation.
func (p *Provisioner) EnsureTemplateExists(ctx context.Context, templateName string) error {
	sess, err := p.sessions.GetOrCreate(ctx, sandbox.DefaultSessionID, p.stagingDir)
	if err != nil {
		return errors.Wrap(err, "staging session")
	}

	templateDir := p.Dir(templateName)
	marker := filepath.Join(templateDir, p.markerFile)

	result, err := p.runtime.Exec(ctx, sess.ID, fmt.Sprintf("test -f %q", marker), execTimeout)
	if err == nil && result.ExitCode == 0 {
		slog.Debug("Template already staged", "template", templateName)
		return nil
	}

	slog.Info("Staging template", "template", templateName)

	archive, err := p.fetch(ctx, templateName)
	if err != nil {
		return fmt.Errorf("fetch template %s: %w", templateName, err)
	}

	if err := p.extract(ctx, sess.ID, templateName, archive); err != nil {
		return fmt.Errorf("extract template %s: %w", templateName, err)
	}

	result, err = p.runtime.Exec(ctx, sess.ID, fmt.Sprintf("touch %q", marker), execTimeout)
	if err != nil || result.ExitCode != 0 {
		return errors.Internal(fmt.Sprintf("write template marker for %s", templateName))
	}

	slog.Info("Template staged", "template", templateName, "bytes", len(archive))
	return nil
}

func (p *Provisioner) fetch(ctx context.Context, templateName string) ([]byte, error) {
	url := p.baseURL + "/" + path.Clean(templateName) + ".zip"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Transient(fmt.Sprintf("object store request: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NotFound(fmt.Sprintf("object store returned %d for %s", resp.StatusCode, url))
	}

	return io.ReadAll(resp.Body)
}

// extract writes the archive into the sandbox as sequentially appended
// base64 chunks (single oversized transfers are rejected by some sandbox
// runtimes), decodes it and unpacks it into the template directory.
func (p *Provisioner) extract(ctx context.Context, sessionID, templateName string, archive []byte) error {
	templateDir := p.Dir(templateName)
	b64Path := filepath.Join(p.stagingDir, templateName+".zip.b64")
	zipPath := filepath.Join(p.stagingDir, templateName+".zip")

	encoded := base64.StdEncoding.EncodeToString(archive)

	if err := p.execOK(ctx, sessionID, fmt.Sprintf("rm -f %q %q", b64Path, zipPath)); err != nil {
		return err
	}

	for start := 0; start < len(encoded); start += p.chunkSize {
		end := start + p.chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		cmd := fmt.Sprintf("printf '%%s' '%s' >> %q", encoded[start:end], b64Path)
		if err := p.execOK(ctx, sessionID, cmd); err != nil {
			return fmt.Errorf("append archive chunk: %w", err)
		}
	}

	steps := []string{
		fmt.Sprintf("base64 -d < %q > %q", b64Path, zipPath),
		fmt.Sprintf("rm -f %q", b64Path),
		fmt.Sprintf("mkdir -p %q", templateDir),
		fmt.Sprintf("unzip -o -q %q -d %q", zipPath, templateDir),
		fmt.Sprintf("rm -f %q", zipPath),
	}
	for _, step := range steps {
		if err := p.execOK(ctx, sessionID, step); err != nil {
			return err
		}
	}

	return nil
}

func (p *Provisioner) execOK(ctx context.Context, sessionID, command string) error {
	result, err := p.runtime.Exec(ctx, sessionID, command, execTimeout)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return errors.Internal(fmt.Sprintf("command %q exited %d: %s", command, result.ExitCode, result.Output()))
	}
	return nil
}

// Materialize copies a staged template into an instance workspace.
func (p *Provisioner) Materialize(ctx context.Context, sessionID, templateName, workspace string) error {
	cmd := fmt.Sprintf("mkdir -p %q && cp -R %q/. %q/", workspace, p.Dir(templateName), workspace)
	if err := p.execOK(ctx, sessionID, cmd); err != nil {
		return fmt.Errorf("materialize template %s: %w", templateName, err)
	}
	return nil
}

// Protections holds the template-declared path sets enforced on every
// file read and write. Immutable once loaded.
type Protections struct {
	DontTouch map[string]bool
	Redacted  map[string]bool
}

// LoadProtections reads donttouch_files.json and redacted_files.json from
// a staged template. Missing manifests yield empty sets.
func (p *Provisioner) LoadProtections(ctx context.Context, templateName string) (*Protections, error) {
	protections := &Protections{
		DontTouch: make(map[string]bool),
		Redacted:  make(map[string]bool),
	}

	if err := p.loadPathSet(ctx, templateName, DonttouchManifest, protections.DontTouch); err != nil {
		return nil, err
	}
	if err := p.loadPathSet(ctx, templateName, RedactedManifest, protections.Redacted); err != nil {
		return nil, err
	}

	return protections, nil
}

func (p *Provisioner) loadPathSet(ctx context.Context, templateName, manifest string, set map[string]bool) error {
	data, err := p.runtime.ReadFile(ctx, filepath.Join(p.Dir(templateName), manifest))
	if err != nil {
		slog.Debug("Protection manifest absent", "template", templateName, "manifest", manifest)
		return nil
	}

	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return fmt.Errorf("parse %s: %w", manifest, err)
	}

	for _, path := range paths {
		set[filepath.Clean(path)] = true
	}
	return nil
}
