package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/harunnryd/butai/internal/analyze"
	"github.com/harunnryd/butai/internal/concurrency"
	"github.com/harunnryd/butai/internal/config"
	"github.com/harunnryd/butai/internal/deploy"
	"github.com/harunnryd/butai/internal/errors"
	"github.com/harunnryd/butai/internal/expose"
	"github.com/harunnryd/butai/internal/ports"
	"github.com/harunnryd/butai/internal/proc"
	"github.com/harunnryd/butai/internal/provision"
	"github.com/harunnryd/butai/internal/sandbox"
	"github.com/harunnryd/butai/internal/store"
	"github.com/harunnryd/butai/internal/template"
)

// Orchestrator owns the full instance lifecycle. Every cache it relies
// on (sessions, metadata, port reservations) lives on an explicit field
// of this struct; there is no package-level mutable state.
type Orchestrator struct {
	cfg config.Config

	runtime     sandbox.Runtime
	sessions    *sandbox.SessionManager
	templates   *template.Provisioner
	allocator   *ports.Allocator
	supervisor  *proc.Supervisor
	exposer     *expose.Exposer
	provisioner *provision.Engine
	analyzer    *analyze.Analyzer
	monitor     *analyze.Monitor
	deployer    *deploy.Deployer
	metadata    *store.MetadataStore
	locks       *concurrency.InstanceLockManager
	mapper      errors.ErrorMapper
}

func New(cfg config.Config, rt sandbox.Runtime, metadata *store.MetadataStore, dispatch deploy.DispatchClient) (*Orchestrator, error) {
	sessions := sandbox.NewSessionManager(rt, cfg.Sandbox.AllocationStrategy, cfg.Sandbox.PoolSize)

	fetchTimeout, err := config.DurationOrDefault(cfg.Templates.FetchTimeout, config.DefaultTemplateFetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse template fetch timeout: %w", err)
	}
	templates := template.NewProvisioner(
		rt,
		sessions,
		cfg.Templates.ObjectStoreBaseURL,
		filepath.Join(cfg.Sandbox.BaseDir, "templates"),
		cfg.Templates.MarkerFile,
		cfg.Sandbox.TransferChunkSize,
		fetchTimeout,
	)

	allocator, err := ports.NewAllocator(cfg.Ports.RangeFrom, cfg.Ports.RangeTo, cfg.Ports.Reserved)
	if err != nil {
		return nil, fmt.Errorf("port allocator init: %w", err)
	}

	pollInterval, err := config.DurationOrDefault(cfg.Process.PollInterval, config.DefaultPollInterval)
	if err != nil {
		return nil, fmt.Errorf("parse poll interval: %w", err)
	}
	readinessTimeout, err := config.DurationOrDefault(cfg.Process.ReadinessTimeout, config.DefaultReadinessTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse readiness timeout: %w", err)
	}
	supervisor := proc.NewSupervisor(rt, pollInterval, readinessTimeout)

	tunnelTimeout, err := config.DurationOrDefault(cfg.Tunnel.Timeout, config.DefaultTunnelTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse tunnel timeout: %w", err)
	}
	exposer := expose.NewExposer(rt, expose.Config{
		Environment:   cfg.Preview.Environment,
		RuntimeDomain: cfg.Preview.RuntimeDomain,
		PublicDomain:  cfg.Preview.PublicDomain,
		TunnelEnabled: cfg.Tunnel.Enabled,
		TunnelPrefer:  cfg.Tunnel.Prefer,
		TunnelCommand: cfg.Tunnel.Command,
		TunnelTimeout: tunnelTimeout,
	})

	provisioner := provision.NewEngine(rt)
	local := provision.NewLocalProvisioner()
	for _, resourceType := range []string{"kv", "d1", "r2", "queue"} {
		provisioner.Register(resourceType, local)
	}

	analyzeTimeout, err := config.DurationOrDefault(cfg.Analyze.Timeout, config.DefaultAnalyzeTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse analyze timeout: %w", err)
	}
	analyzer := analyze.NewAnalyzer(rt, analyze.Config{
		LintCommand:      cfg.Analyze.LintCommand,
		TypecheckCommand: cfg.Analyze.TypecheckCommand,
		Timeout:          analyzeTimeout,
	})
	monitor := analyze.NewMonitor(rt, cfg.Analyze.MonitorCommand, analyzeTimeout)

	buildTimeout, err := config.DurationOrDefault(cfg.Deploy.RequestTimeout, config.DefaultDeployRequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse deploy request timeout: %w", err)
	}
	deployer := deploy.NewDeployer(rt, dispatch, metadata, deploy.Config{
		Namespace:             cfg.Deploy.DispatchNamespace,
		CompatibilityDate:     cfg.Deploy.CompatibilityDate,
		Protocol:              cfg.Deploy.Protocol,
		PublicDomain:          cfg.Deploy.PublicDomain,
		BuildCommand:          cfg.Deploy.BuildCommand,
		SecondaryBuildCommand: cfg.Deploy.SecondaryBuildCommand,
		EntryScript:           cfg.Deploy.EntryScript,
		ModulesDir:            cfg.Deploy.ModulesDir,
		AssetsDir:             cfg.Deploy.AssetsDir,
		BuildTimeout:          buildTimeout,
	})

	return &Orchestrator{
		cfg:         cfg,
		runtime:     rt,
		sessions:    sessions,
		templates:   templates,
		allocator:   allocator,
		supervisor:  supervisor,
		exposer:     exposer,
		provisioner: provisioner,
		analyzer:    analyzer,
		monitor:     monitor,
		deployer:    deployer,
		metadata:    metadata,
		locks:       concurrency.NewInstanceLockManager(),
		mapper:      errors.NewDefaultErrorMapper(),
	}, nil
}

// opError normalizes an external failure (sandbox runtime, object
// store, dispatch API) onto the error taxonomy before it crosses the
// result boundary. Errors already carrying a category pass unchanged.
func (o *Orchestrator) opError(msg string, err error) string {
	if o.mapper.Category(err) == "Unknown" {
		err = o.mapper.MapError(err)
	}
	return fmt.Sprintf("%s: %v", msg, err)
}

// workspacePath is the instance's project directory inside the sandbox.
// Pooled allocation namespaces it under the instance's pool member.
func (o *Orchestrator) workspacePath(runID string) string {
	return filepath.Join(o.sessions.WorkspaceRoot(o.cfg.Sandbox.BaseDir, runID), runID)
}

func devSessionID(runID string) string    { return runID + "-dev" }
func tunnelSessionID(runID string) string { return runID + "-tunnel" }
