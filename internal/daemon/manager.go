package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Daemon runs the orchestrator's long-lived components as one service.
type Daemon struct {
	components      []Component
	health          HealthStatus
	uptimeStart     time.Time
	shutdownTimeout time.Duration
	mu              sync.RWMutex
}

func NewDaemon(shutdownTimeout time.Duration) *Daemon {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &Daemon{
		components:      make([]Component, 0),
		health:          StatusStarting,
		uptimeStart:     time.Now(),
		shutdownTimeout: shutdownTimeout,
	}
}

func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	slog.Info("Component registered", "component", comp.Name(), "total_components", len(d.components))
}

// Run starts every component, blocks until the context is cancelled or
// an interrupt arrives, then stops everything in reverse order. A
// component failing to start rolls back the ones already running.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := make([]Component, 0, len(d.components))
	for _, comp := range d.components {
		slog.Info("Starting component", "component", comp.Name())
		if err := comp.Start(ctx); err != nil {
			d.stopAll(started)
			return fmt.Errorf("start component %s: %w", comp.Name(), err)
		}
		started = append(started, comp)
	}

	d.setHealth(StatusRunning)
	slog.Info("Daemon is running", "components", len(d.components))

	<-ctx.Done()

	slog.Info("Shutting down", "uptime", time.Since(d.uptimeStart).Truncate(time.Second))
	d.setHealth(StatusStopping)
	d.stopAll(started)
	d.setHealth(StatusStopped)
	return nil
}

func (d *Daemon) stopAll(started []Component) {
	ctx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		comp := started[i]
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", comp.Name(), "error", err)
		} else {
			slog.Info("Component stopped", "component", comp.Name())
		}
	}
}

// Health reports per-component health plus the daemon's own state.
func (d *Daemon) Health(ctx context.Context) (HealthStatus, []ComponentHealth) {
	d.mu.RLock()
	state := d.health
	comps := d.components
	d.mu.RUnlock()

	out := make([]ComponentHealth, 0, len(comps))
	for _, comp := range comps {
		h, err := comp.Health(ctx)
		if err != nil || h == nil {
			out = append(out, ComponentHealth{Name: comp.Name(), Healthy: false, Error: err})
			continue
		}
		out = append(out, *h)
	}
	return state, out
}

func (d *Daemon) setHealth(h HealthStatus) {
	d.mu.Lock()
	d.health = h
	d.mu.Unlock()
}
