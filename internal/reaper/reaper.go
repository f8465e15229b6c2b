package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harunnryd/butai/internal/orchestrator"
)

// InstanceController is the slice of the orchestrator the reaper needs.
type InstanceController interface {
	ListAllInstances(ctx context.Context) *orchestrator.ListResult
	ShutdownInstance(ctx context.Context, runID string) *orchestrator.ShutdownResult
}

// Reaper periodically shuts down instances whose dev server died or
// that outlived the configured idle window.
type Reaper struct {
	controller InstanceController
	schedule   string
	maxIdle    time.Duration
	cron       *cron.Cron
}

func New(controller InstanceController, schedule string, maxIdle time.Duration) *Reaper {
	return &Reaper{
		controller: controller,
		schedule:   schedule,
		maxIdle:    maxIdle,
	}
}

// Start registers the sweep with the cron runner. The schedule uses
// standard five-field cron syntax.
func (r *Reaper) Start() error {
	if _, err := cron.ParseStandard(r.schedule); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", r.schedule, err)
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() {
		r.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("register reaper job: %w", err)
	}

	r.cron.Start()
	slog.Info("Reaper started", "schedule", r.schedule, "max_idle", r.maxIdle)
	return nil
}

func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Sweep shuts down every reapable instance and returns how many went
// away. Individual shutdown failures are logged, not propagated; the
// next sweep retries them.
func (r *Reaper) Sweep(ctx context.Context) int {
	list := r.controller.ListAllInstances(ctx)
	if !list.Success {
		slog.Warn("Reaper sweep could not list instances", "error", list.Error)
		return 0
	}

	reaped := 0
	for _, inst := range list.Instances {
		reason, ok := r.reapable(inst)
		if !ok {
			continue
		}

		slog.Info("Reaping instance", "run_id", inst.RunID, "reason", reason)
		if result := r.controller.ShutdownInstance(ctx, inst.RunID); !result.Success {
			slog.Warn("Reaping failed", "run_id", inst.RunID, "error", result.Error)
			continue
		}
		reaped++
	}
	return reaped
}

func (r *Reaper) reapable(inst orchestrator.InstanceStatus) (string, bool) {
	if !inst.Running {
		return "dev server not running", true
	}
	if r.maxIdle > 0 && time.Since(inst.StartTime) > r.maxIdle {
		return "instance exceeded max idle age", true
	}
	return "", false
}
