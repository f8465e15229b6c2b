package components

import (
	"context"

	"github.com/harunnryd/butai/internal/daemon"
	"github.com/harunnryd/butai/internal/ingress"
)

// APIComponent runs the lifecycle HTTP API.
type APIComponent struct {
	server *ingress.HTTPServer
}

func NewAPIComponent(server *ingress.HTTPServer) *APIComponent {
	return &APIComponent{server: server}
}

func (c *APIComponent) Name() string { return "lifecycle-api" }

func (c *APIComponent) Start(_ context.Context) error {
	c.server.Start()
	return nil
}

func (c *APIComponent) Stop(ctx context.Context) error {
	return c.server.Stop(ctx)
}

func (c *APIComponent) Health(_ context.Context) (*daemon.ComponentHealth, error) {
	return &daemon.ComponentHealth{Name: c.Name(), Healthy: true}, nil
}
