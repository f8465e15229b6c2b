package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/harunnryd/butai/internal/errors"
	"github.com/harunnryd/butai/internal/sandbox"
	"github.com/harunnryd/butai/internal/store"
)

// ConfigStore provides the infra config provisioned at instance
// creation. It is never regenerated at deploy time.
type ConfigStore interface {
	GetConfig(key string) (string, error)
}

type Config struct {
	Namespace             string
	CompatibilityDate     string
	Protocol              string
	PublicDomain          string
	BuildCommand          string
	SecondaryBuildCommand string
	EntryScript           string
	ModulesDir            string
	AssetsDir             string
	BuildTimeout          time.Duration
}

// Deployer runs the build-and-ship pipeline for one instance. The steps
// are sequential; each depends on the previous one's output.
type Deployer struct {
	runtime sandbox.Runtime
	client  DispatchClient
	configs ConfigStore
	cfg     Config
}

func NewDeployer(rt sandbox.Runtime, client DispatchClient, configs ConfigStore, cfg Config) *Deployer {
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 5 * time.Minute
	}
	return &Deployer{runtime: rt, client: client, configs: configs, cfg: cfg}
}

// Deploy builds the project and submits it to the dispatch namespace,
// returning the public deployment URL. Subdomain falls back to the
// project name when empty.
func (d *Deployer) Deploy(ctx context.Context, sessionID, workspace, runID, projectName, subdomain string) (string, error) {
	if subdomain == "" {
		subdomain = projectName
	}
	subdomain = sanitizeSubdomain(subdomain)
	if subdomain == "" {
		return "", errors.InvalidInput("deployment requires a project name or subdomain")
	}

	if err := d.runBuild(ctx, sessionID); err != nil {
		return "", err
	}

	if d.cfg.SecondaryBuildCommand != "" {
		result, err := d.runtime.Exec(ctx, sessionID, d.cfg.SecondaryBuildCommand, d.cfg.BuildTimeout)
		if err != nil {
			slog.Warn("Secondary build step failed to run", "run_id", runID, "error", err)
		} else if result.ExitCode != 0 {
			slog.Warn("Secondary build step exited non-zero, continuing",
				"run_id", runID, "exit_code", result.ExitCode)
		}
	}

	infraConfig, err := d.configs.GetConfig(store.ConfigKey(runID))
	if err != nil {
		return "", errors.ConfigMissing(fmt.Sprintf("no provisioned config for instance %s", runID))
	}

	script, err := d.runtime.ReadFile(ctx, filepath.Join(workspace, d.cfg.EntryScript))
	if err != nil {
		return "", errors.BuildFailed(fmt.Sprintf("compiled entry script missing: %v", err))
	}

	modules, err := d.loadModules(ctx, sessionID, workspace)
	if err != nil {
		return "", err
	}

	assets, err := d.loadDirectory(ctx, sessionID, filepath.Join(workspace, d.cfg.AssetsDir))
	if err != nil {
		return "", fmt.Errorf("load assets: %w", err)
	}
	manifest := BuildAssetManifest(assets)

	req := &DeploymentRequest{
		ScriptName:        subdomain,
		CompatibilityDate: d.cfg.CompatibilityDate,
		Script:            string(script),
		Modules:           modules,
		AssetManifest:     manifest,
		Assets:            EncodeAssets(assets),
		Migrations:        d.loadMigrations(ctx, workspace),
		Config:            infraConfig,
	}

	if err := d.client.Deploy(ctx, d.cfg.Namespace, req); err != nil {
		return "", fmt.Errorf("dispatch deployment: %w", err)
	}

	deployedURL := fmt.Sprintf("%s://%s.%s", d.cfg.Protocol, subdomain, d.cfg.PublicDomain)
	slog.Info("Deployment complete", "run_id", runID, "url", deployedURL, "assets", len(manifest))
	return deployedURL, nil
}

func (d *Deployer) runBuild(ctx context.Context, sessionID string) error {
	result, err := d.runtime.Exec(ctx, sessionID, d.cfg.BuildCommand, d.cfg.BuildTimeout)
	if err != nil {
		return errors.BuildFailed(fmt.Sprintf("build did not run: %v", err))
	}
	if result.ExitCode != 0 {
		tail := result.Stderr
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		return errors.BuildFailed(fmt.Sprintf("build exited %d: %s", result.ExitCode, strings.TrimSpace(tail)))
	}
	return nil
}

// loadModules reads every compiled module under the modules dir. No
// modules dir means a single-script project.
func (d *Deployer) loadModules(ctx context.Context, sessionID, workspace string) (map[string]string, error) {
	contents, err := d.loadDirectory(ctx, sessionID, filepath.Join(workspace, d.cfg.ModulesDir))
	if err != nil {
		return nil, fmt.Errorf("load modules: %w", err)
	}
	if len(contents) == 0 {
		return nil, nil
	}

	modules := make(map[string]string, len(contents))
	for rel, data := range contents {
		modules[rel] = string(data)
	}
	return modules, nil
}

// loadDirectory reads every regular file under dir through the sandbox
// runtime, keyed by slash-separated relative path. A missing directory
// loads nothing.
func (d *Deployer) loadDirectory(ctx context.Context, sessionID, dir string) (map[string][]byte, error) {
	command := fmt.Sprintf("test -d %q && find %q -type f || true", dir, dir)
	result, err := d.runtime.Exec(ctx, sessionID, command, d.cfg.BuildTimeout)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	contents := map[string][]byte{}
	for _, path := range strings.Split(result.Stdout, "\n") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := d.runtime.ReadFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, err
		}
		contents[filepath.ToSlash(rel)] = data
	}
	return contents, nil
}

// loadMigrations picks up a migrations manifest when the project ships
// one. Absent for most projects.
func (d *Deployer) loadMigrations(ctx context.Context, workspace string) json.RawMessage {
	data, err := d.runtime.ReadFile(ctx, filepath.Join(workspace, "migrations.json"))
	if err != nil {
		return nil
	}
	if !json.Valid(data) {
		slog.Warn("Ignoring malformed migrations manifest", "workspace", workspace)
		return nil
	}
	return json.RawMessage(data)
}

var subdomainInvalidRe = regexp.MustCompile(`[^a-z0-9-]+`)

// sanitizeSubdomain lowercases and strips anything that cannot appear in
// a DNS label.
func sanitizeSubdomain(name string) string {
	cleaned := subdomainInvalidRe.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(cleaned, "-")
}
