package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/butai/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Sandbox   SandboxConfig   `koanf:"sandbox"`
	Templates TemplatesConfig `koanf:"templates"`
	Ports     PortsConfig     `koanf:"ports"`
	Preview   PreviewConfig   `koanf:"preview"`
	Tunnel    TunnelConfig    `koanf:"tunnel"`
	Process   ProcessConfig   `koanf:"process"`
	Analyze   AnalyzeConfig   `koanf:"analyze"`
	Deploy    DeployConfig    `koanf:"deploy"`
	Store     StoreConfig     `koanf:"store"`
	Reaper    ReaperConfig    `koanf:"reaper"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type SandboxConfig struct {
	BaseDir            string `koanf:"base_dir"`
	AllocationStrategy string `koanf:"allocation_strategy"` // "one_to_one" or "many_to_one"
	PoolSize           int    `koanf:"pool_size"`
	TransferChunkSize  int    `koanf:"transfer_chunk_size"`
	ExecTimeout        string `koanf:"exec_timeout"`
	InstallCommand     string `koanf:"install_command"`
	InstallTimeout     string `koanf:"install_timeout"`
}

type TemplatesConfig struct {
	ObjectStoreBaseURL string `koanf:"object_store_base_url"`
	FetchTimeout       string `koanf:"fetch_timeout"`
	MarkerFile         string `koanf:"marker_file"`
}

type PortsConfig struct {
	RangeFrom int   `koanf:"range_from"`
	RangeTo   int   `koanf:"range_to"`
	Reserved  []int `koanf:"reserved"`
}

type PreviewConfig struct {
	Environment   string `koanf:"environment"` // "local" or "remote"
	RuntimeDomain string `koanf:"runtime_domain"`
	PublicDomain  string `koanf:"public_domain"`
}

type TunnelConfig struct {
	Enabled bool   `koanf:"enabled"`
	Prefer  bool   `koanf:"prefer"`
	Command string `koanf:"command"`
	Timeout string `koanf:"timeout"`
}

type ProcessConfig struct {
	ReadinessTimeout string `koanf:"readiness_timeout"`
	PollInterval     string `koanf:"poll_interval"`
	LogWindowBytes   int    `koanf:"log_window_bytes"`
}

type AnalyzeConfig struct {
	LintCommand      string `koanf:"lint_command"`
	TypecheckCommand string `koanf:"typecheck_command"`
	MonitorCommand   string `koanf:"monitor_command"`
	Timeout          string `koanf:"timeout"`
}

type DeployConfig struct {
	DispatchURL           string `koanf:"dispatch_url"`
	DispatchNamespace     string `koanf:"dispatch_namespace"`
	CompatibilityDate     string `koanf:"compatibility_date"`
	Protocol              string `koanf:"protocol"`
	PublicDomain          string `koanf:"public_domain"`
	BuildCommand          string `koanf:"build_command"`
	SecondaryBuildCommand string `koanf:"secondary_build_command"`
	EntryScript           string `koanf:"entry_script"`
	ModulesDir            string `koanf:"modules_dir"`
	AssetsDir             string `koanf:"assets_dir"`
	RequestTimeout        string `koanf:"request_timeout"`
}

type StoreConfig struct {
	InstancesPath string `koanf:"instances_path"`
	LockTimeout   string `koanf:"lock_timeout"`
	LockRetry     string `koanf:"lock_retry"`
	LockMaxRetry  int    `koanf:"lock_max_retry"`
	StaleLockTTL  string `koanf:"stale_lock_ttl"`
}

type ReaperConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"`
	MaxIdle  string `koanf:"max_idle"`
}

const (
	DefaultServerPort            = 8080
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "10s"
	DefaultServerWriteTimeout    = "30s"
	DefaultServerIdleTimeout     = "60s"
	DefaultServerShutdownTimeout = "5s"

	DefaultAllocationOneToOne  = "one_to_one"
	DefaultAllocationManyToOne = "many_to_one"
	DefaultSandboxPoolSize     = 8
	DefaultTransferChunkSize   = 48 * 1024
	DefaultSandboxExecTimeout  = "60s"
	DefaultInstallCommand      = "npm install"
	DefaultInstallTimeout      = "5m"

	DefaultObjectStoreBaseURL   = "https://templates.butai.dev"
	DefaultTemplateFetchTimeout = "60s"
	DefaultTemplateMarkerFile   = ".butai-template"

	DefaultPortRangeFrom = 8001
	DefaultPortRangeTo   = 8999

	DefaultPreviewEnvironment = "local"
	DefaultRuntimeDomain      = "sandbox.internal"
	DefaultPreviewDomain      = "preview.butai.dev"

	DefaultTunnelCommand = "cloudflared"
	DefaultTunnelTimeout = "20s"

	DefaultReadinessTimeout = "30s"
	DefaultPollInterval     = "2s"
	DefaultLogWindowBytes   = 64 * 1024

	DefaultLintCommand      = "npx eslint --format json ."
	DefaultTypecheckCommand = "npx tsc --noEmit --pretty false"
	DefaultMonitorCommand   = "butai-monitor"
	DefaultAnalyzeTimeout   = "120s"

	DefaultDispatchURL           = "https://dispatch.butai.dev"
	DefaultDispatchNamespace     = "butai-previews"
	DefaultCompatibilityDate     = "2025-06-01"
	DefaultDeployProtocol        = "https"
	DefaultDeployPublicDomain    = "butai.app"
	DefaultBuildCommand          = "npm run build"
	DefaultSecondaryBuildCommand = "npm run build:worker"
	DefaultEntryScript           = "dist/index.js"
	DefaultModulesDir            = "dist/modules"
	DefaultAssetsDir             = "dist/client"
	DefaultDeployRequestTimeout  = "120s"

	DefaultStoreLockTimeout  = "30s"
	DefaultStoreLockRetry    = "100ms"
	DefaultStoreLockMaxRetry = 300
	DefaultStoreStaleLockTTL = "15m"

	DefaultReaperSchedule = "*/5 * * * *"
	DefaultReaperMaxIdle  = "2h"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":             DefaultServerPort,
		"server.log_level":        DefaultServerLogLevel,
		"server.read_timeout":     DefaultServerReadTimeout,
		"server.write_timeout":    DefaultServerWriteTimeout,
		"server.idle_timeout":     DefaultServerIdleTimeout,
		"server.shutdown_timeout": DefaultServerShutdownTimeout,

		"sandbox.base_dir":            filepath.Join(os.Getenv("HOME"), ".butai", "sandboxes"),
		"sandbox.allocation_strategy": DefaultAllocationOneToOne,
		"sandbox.pool_size":           DefaultSandboxPoolSize,
		"sandbox.transfer_chunk_size": DefaultTransferChunkSize,
		"sandbox.exec_timeout":        DefaultSandboxExecTimeout,
		"sandbox.install_command":     DefaultInstallCommand,
		"sandbox.install_timeout":     DefaultInstallTimeout,

		"templates.object_store_base_url": DefaultObjectStoreBaseURL,
		"templates.fetch_timeout":         DefaultTemplateFetchTimeout,
		"templates.marker_file":           DefaultTemplateMarkerFile,

		"ports.range_from": DefaultPortRangeFrom,
		"ports.range_to":   DefaultPortRangeTo,
		"ports.reserved":   []int{DefaultServerPort},

		"preview.environment":    DefaultPreviewEnvironment,
		"preview.runtime_domain": DefaultRuntimeDomain,
		"preview.public_domain":  DefaultPreviewDomain,

		"tunnel.enabled": false,
		"tunnel.prefer":  false,
		"tunnel.command": DefaultTunnelCommand,
		"tunnel.timeout": DefaultTunnelTimeout,

		"process.readiness_timeout": DefaultReadinessTimeout,
		"process.poll_interval":     DefaultPollInterval,
		"process.log_window_bytes":  DefaultLogWindowBytes,

		"analyze.lint_command":      DefaultLintCommand,
		"analyze.typecheck_command": DefaultTypecheckCommand,
		"analyze.monitor_command":   DefaultMonitorCommand,
		"analyze.timeout":           DefaultAnalyzeTimeout,

		"deploy.dispatch_url":            DefaultDispatchURL,
		"deploy.dispatch_namespace":      DefaultDispatchNamespace,
		"deploy.compatibility_date":      DefaultCompatibilityDate,
		"deploy.protocol":                DefaultDeployProtocol,
		"deploy.public_domain":           DefaultDeployPublicDomain,
		"deploy.build_command":           DefaultBuildCommand,
		"deploy.secondary_build_command": DefaultSecondaryBuildCommand,
		"deploy.entry_script":            DefaultEntryScript,
		"deploy.modules_dir":             DefaultModulesDir,
		"deploy.assets_dir":              DefaultAssetsDir,
		"deploy.request_timeout":         DefaultDeployRequestTimeout,

		"store.instances_path": filepath.Join(os.Getenv("HOME"), ".butai", "instances"),
		"store.lock_timeout":   DefaultStoreLockTimeout,
		"store.lock_retry":     DefaultStoreLockRetry,
		"store.lock_max_retry": DefaultStoreLockMaxRetry,
		"store.stale_lock_ttl": DefaultStoreStaleLockTTL,

		"reaper.enabled":  false,
		"reaper.schedule": DefaultReaperSchedule,
		"reaper.max_idle": DefaultReaperMaxIdle,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".butai", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("BUTAI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BUTAI_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	baseDir, err := expandConfiguredPath(cfg.Sandbox.BaseDir)
	if err != nil {
		return err
	}
	if baseDir != "" {
		cfg.Sandbox.BaseDir = baseDir
	}

	instancesPath, err := expandConfiguredPath(cfg.Store.InstancesPath)
	if err != nil {
		return err
	}
	if instancesPath != "" {
		cfg.Store.InstancesPath = instancesPath
	}

	return nil
}

func expandConfiguredPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(trimmed)
	if err != nil {
		return "", err
	}
	return expanded, nil
}
