package deploy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DeploymentRequest is the payload submitted to the dispatch namespace.
type DeploymentRequest struct {
	ScriptName         string            `json:"scriptName"`
	CompatibilityDate  string            `json:"compatibilityDate"`
	CompatibilityFlags []string          `json:"compatibilityFlags,omitempty"`
	Script             string            `json:"script"`
	Modules            map[string]string `json:"modules,omitempty"`
	AssetManifest      AssetManifest     `json:"assetManifest,omitempty"`
	Assets             map[string]string `json:"assets,omitempty"`
	Migrations         json.RawMessage   `json:"migrations,omitempty"`
	Config             string            `json:"config,omitempty"`
}

// DispatchClient submits a script to a multi-tenant dispatch namespace.
type DispatchClient interface {
	Deploy(ctx context.Context, namespace string, req *DeploymentRequest) error
}

// HTTPDispatchClient talks to the dispatch deployment API over HTTP.
type HTTPDispatchClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDispatchClient(baseURL string, timeout time.Duration) *HTTPDispatchClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPDispatchClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPDispatchClient) Deploy(ctx context.Context, namespace string, req *DeploymentRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode deployment request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/namespaces/%s/scripts/%s",
		c.baseURL, url.PathEscape(namespace), url.PathEscape(req.ScriptName))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build deployment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("submit deployment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("dispatch API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// EncodeAssets converts raw asset bytes into the wire representation.
func EncodeAssets(contents map[string][]byte) map[string]string {
	out := make(map[string]string, len(contents))
	for path, data := range contents {
		out[path] = base64.StdEncoding.EncodeToString(data)
	}
	return out
}
