package orchestrator

import (
	"time"

	"github.com/harunnryd/butai/internal/analyze"
	"github.com/harunnryd/butai/internal/files"
	"github.com/harunnryd/butai/internal/provision"
)

// Status distinguishes full success from degraded outcomes. Partial
// covers results where the instance is usable but some best-effort step
// (tunnel, readiness, resource provisioning) fell short.
type Status string

const (
	StatusOk      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// CreateRequest describes a new instance.
type CreateRequest struct {
	Template   string            `json:"template"`
	Project    string            `json:"project"`
	WebhookURL string            `json:"webhookUrl,omitempty"`
	EnvVars    map[string]string `json:"envVars,omitempty"`
}

// CreateResult is returned by CreateInstance. On failure only Status,
// Success and Error are meaningful; nothing was persisted.
type CreateResult struct {
	Success      bool              `json:"success"`
	Status       Status            `json:"status"`
	RunID        string            `json:"runId,omitempty"`
	PreviewURL   string            `json:"previewUrl,omitempty"`
	TunnelURL    string            `json:"tunnelUrl,omitempty"`
	ProcessID    string            `json:"processId,omitempty"`
	Ready        bool              `json:"ready"`
	Provisioning *provision.Result `json:"provisioning,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type WriteFilesResult struct {
	Success bool                `json:"success"`
	Results []files.WriteResult `json:"results"`
	Error   string              `json:"error,omitempty"`
}

type GetFilesResult struct {
	Success bool               `json:"success"`
	Files   []files.ReadResult `json:"files"`
	Error   string             `json:"error,omitempty"`
}

type CommandResult struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
	Success  bool   `json:"success"`
}

type ExecuteResult struct {
	Success bool            `json:"success"`
	Results []CommandResult `json:"results"`
	Error   string          `json:"error,omitempty"`
}

type AnalysisResult struct {
	Success bool            `json:"success"`
	Report  *analyze.Report `json:"report,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type ErrorsResult struct {
	Success bool                   `json:"success"`
	Errors  []analyze.RuntimeError `json:"errors,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

type LogsResult struct {
	Success bool   `json:"success"`
	Logs    string `json:"logs,omitempty"`
	Error   string `json:"error,omitempty"`
}

// InstanceStatus is the caller-facing view of one instance.
type InstanceStatus struct {
	RunID         string    `json:"runId"`
	TemplateName  string    `json:"templateName"`
	ProjectName   string    `json:"projectName"`
	StartTime     time.Time `json:"startTime"`
	PreviewURL    string    `json:"previewUrl,omitempty"`
	TunnelURL     string    `json:"tunnelUrl,omitempty"`
	ProcessID     string    `json:"processId,omitempty"`
	AllocatedPort int       `json:"allocatedPort,omitempty"`
	Running       bool      `json:"running"`
}

type StatusResult struct {
	Success  bool            `json:"success"`
	Instance *InstanceStatus `json:"instance,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type ListResult struct {
	Success   bool             `json:"success"`
	Instances []InstanceStatus `json:"instances"`
	Error     string           `json:"error,omitempty"`
}

type DeployResult struct {
	Success     bool   `json:"success"`
	DeployedURL string `json:"deployedUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

type ShutdownResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
