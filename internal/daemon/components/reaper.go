package components

import (
	"context"

	"github.com/harunnryd/butai/internal/daemon"
	"github.com/harunnryd/butai/internal/reaper"
)

// ReaperComponent runs the idle-instance janitor on its cron schedule.
type ReaperComponent struct {
	reaper *reaper.Reaper
}

func NewReaperComponent(r *reaper.Reaper) *ReaperComponent {
	return &ReaperComponent{reaper: r}
}

func (c *ReaperComponent) Name() string { return "reaper" }

func (c *ReaperComponent) Start(_ context.Context) error {
	return c.reaper.Start()
}

func (c *ReaperComponent) Stop(_ context.Context) error {
	c.reaper.Stop()
	return nil
}

func (c *ReaperComponent) Health(_ context.Context) (*daemon.ComponentHealth, error) {
	return &daemon.ComponentHealth{Name: c.Name(), Healthy: true}, nil
}
