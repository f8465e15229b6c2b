package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/harunnryd/butai/internal/config"
	"github.com/harunnryd/butai/internal/daemon"
	"github.com/harunnryd/butai/internal/daemon/components"
	"github.com/harunnryd/butai/internal/idempotency"
	"github.com/harunnryd/butai/internal/ingress"
	"github.com/harunnryd/butai/internal/reaper"
	"github.com/harunnryd/butai/internal/store"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lifecycle API server",
	Long:  `Runs the orchestrator as a long-lived service exposing the instance lifecycle API, with an optional idle-instance reaper.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		orch, _, err := buildOrchestrator(cfg)
		if err != nil {
			return err
		}

		shutdownTimeout, err := config.DurationOrDefault(cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
		if err != nil {
			return fmt.Errorf("parse shutdown timeout: %w", err)
		}

		instancesPath, err := store.ResolveInstancesPath(cfg.Store.InstancesPath)
		if err != nil {
			return fmt.Errorf("resolve instances path: %w", err)
		}

		staleLockTTL, err := config.DurationOrDefault(cfg.Store.StaleLockTTL, config.DefaultStoreStaleLockTTL)
		if err != nil {
			return fmt.Errorf("parse store stale lock ttl: %w", err)
		}
		forceClean, _ := cmd.Flags().GetBool("force-clean-locks")
		if err := store.CleanupStaleLocks(instancesPath, staleLockTTL, forceClean); err != nil {
			slog.Warn("Failed to cleanup stale locks", "path", instancesPath, "error", err)
		}

		requests, err := idempotency.NewStore(filepath.Join(instancesPath, "requests.json"))
		if err != nil {
			return fmt.Errorf("idempotency store init: %w", err)
		}

		d := daemon.NewDaemon(shutdownTimeout)
		d.AddComponent(components.NewAPIComponent(ingress.NewHTTPServer(cfg.Server.Port, orch, requests)))

		if cfg.Reaper.Enabled {
			maxIdle, err := config.DurationOrDefault(cfg.Reaper.MaxIdle, config.DefaultReaperMaxIdle)
			if err != nil {
				return fmt.Errorf("parse reaper max idle: %w", err)
			}
			d.AddComponent(components.NewReaperComponent(reaper.New(orch, cfg.Reaper.Schedule, maxIdle)))
		}

		return d.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("force-clean-locks", false, "Force cleanup of stale lock files (default: warn-only)")
	rootCmd.AddCommand(serveCmd)
}
