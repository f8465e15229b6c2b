package provision

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/butai/internal/sandbox"
)

// ConfigFile is the infrastructure config scanned for resource placeholders.
const ConfigFile = "wrangler.jsonc"

// placeholderRe matches {{PLACEHOLDER:type:binding}} tokens left in the
// template config for resources that do not exist yet.
var placeholderRe = regexp.MustCompile(`\{\{PLACEHOLDER:([A-Za-z0-9_-]+):([A-Za-z0-9_-]+)\}\}`)

// Placeholder is one unresolved resource token found in the config.
type Placeholder struct {
	Token        string
	ResourceType string
	Binding      string
}

// ResourceProvisioner creates one backing resource and returns its id.
type ResourceProvisioner interface {
	Provision(ctx context.Context, binding string) (string, error)
}

// ProvisionerFunc adapts a function to the ResourceProvisioner interface.
type ProvisionerFunc func(ctx context.Context, binding string) (string, error)

func (f ProvisionerFunc) Provision(ctx context.Context, binding string) (string, error) {
	return f(ctx, binding)
}

// ProvisionedResource records one successfully created resource.
type ProvisionedResource struct {
	Placeholder  string `json:"placeholder"`
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	Binding      string `json:"binding"`
}

// FailedResource records one placeholder that could not be provisioned.
type FailedResource struct {
	Placeholder  string `json:"placeholder"`
	ResourceType string `json:"resourceType"`
	Error        string `json:"error"`
	Binding      string `json:"binding"`
}

// Result is the outcome of one provisioning pass. Success is false when
// at least one placeholder failed, even if others provisioned.
type Result struct {
	Success         bool                  `json:"success"`
	Provisioned     []ProvisionedResource `json:"provisioned"`
	Failed          []FailedResource      `json:"failed"`
	Replacements    map[string]string     `json:"replacements"`
	WranglerUpdated bool                  `json:"wranglerUpdated"`
}

// Engine scans the instance config for placeholders, provisions backing
// resources per type, and rewrites the config with the resolved ids.
type Engine struct {
	runtime      sandbox.Runtime
	provisioners map[string]ResourceProvisioner
}

func NewEngine(rt sandbox.Runtime) *Engine {
	return &Engine{runtime: rt, provisioners: make(map[string]ResourceProvisioner)}
}

// Register binds a provisioner to a resource type, replacing any previous
// binding for that type.
func (e *Engine) Register(resourceType string, p ResourceProvisioner) {
	e.provisioners[resourceType] = p
}

// ProvisionResources resolves every placeholder in the workspace config.
// No single failure aborts the batch; a missing config file means there
// is nothing to provision and counts as success.
func (e *Engine) ProvisionResources(ctx context.Context, workspace string) (*Result, error) {
	result := &Result{
		Provisioned:  []ProvisionedResource{},
		Failed:       []FailedResource{},
		Replacements: map[string]string{},
	}

	configPath := filepath.Join(workspace, ConfigFile)
	raw, err := e.runtime.ReadFile(ctx, configPath)
	if err != nil {
		slog.Debug("No infrastructure config found, skipping provisioning", "path", configPath)
		result.Success = true
		return result, nil
	}

	content := string(raw)
	placeholders := DetectPlaceholders(content)
	if len(placeholders) == 0 {
		result.Success = true
		return result, nil
	}

	for _, ph := range placeholders {
		provisioner, ok := e.provisioners[ph.ResourceType]
		if !ok {
			result.Failed = append(result.Failed, FailedResource{
				Placeholder:  ph.Token,
				ResourceType: ph.ResourceType,
				Error:        fmt.Sprintf("no provisioner registered for resource type %q", ph.ResourceType),
				Binding:      ph.Binding,
			})
			continue
		}

		resourceID, err := provisioner.Provision(ctx, ph.Binding)
		if err != nil {
			slog.Warn("Resource provisioning failed", "type", ph.ResourceType, "binding", ph.Binding, "error", err)
			result.Failed = append(result.Failed, FailedResource{
				Placeholder:  ph.Token,
				ResourceType: ph.ResourceType,
				Error:        err.Error(),
				Binding:      ph.Binding,
			})
			continue
		}

		result.Provisioned = append(result.Provisioned, ProvisionedResource{
			Placeholder:  ph.Token,
			ResourceType: ph.ResourceType,
			ResourceID:   resourceID,
			Binding:      ph.Binding,
		})
		result.Replacements[ph.Token] = resourceID
	}

	if len(result.Replacements) > 0 {
		for token, id := range result.Replacements {
			content = strings.ReplaceAll(content, token, id)
		}
		if err := e.runtime.WriteFile(ctx, configPath, []byte(content)); err != nil {
			return nil, fmt.Errorf("rewrite %s: %w", ConfigFile, err)
		}
		result.WranglerUpdated = true
	}

	result.Success = len(result.Failed) == 0
	return result, nil
}

// DetectPlaceholders extracts the distinct placeholder tokens, preserving
// first-seen order.
func DetectPlaceholders(content string) []Placeholder {
	seen := make(map[string]struct{})
	var out []Placeholder
	for _, m := range placeholderRe.FindAllStringSubmatch(content, -1) {
		if _, dup := seen[m[0]]; dup {
			continue
		}
		seen[m[0]] = struct{}{}
		out = append(out, Placeholder{Token: m[0], ResourceType: m[1], Binding: m[2]})
	}
	return out
}

// LocalProvisioner mints resource ids without calling out anywhere. Used
// when running entirely on the local runtime.
type LocalProvisioner struct {
	entropy *rand.Rand
}

func NewLocalProvisioner() *LocalProvisioner {
	return &LocalProvisioner{entropy: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (p *LocalProvisioner) Provision(_ context.Context, binding string) (string, error) {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), p.entropy)
	return fmt.Sprintf("%s-%s", binding, strings.ToLower(id.String())), nil
}
