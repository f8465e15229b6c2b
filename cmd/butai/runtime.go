package main

import (
	"fmt"

	"github.com/harunnryd/butai/internal/config"
	"github.com/harunnryd/butai/internal/deploy"
	"github.com/harunnryd/butai/internal/orchestrator"
	"github.com/harunnryd/butai/internal/sandbox"
	"github.com/harunnryd/butai/internal/store"
)

// buildOrchestrator wires the runtime, metadata store and dispatch
// client into a ready orchestrator.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, *store.MetadataStore, error) {
	rt, err := sandbox.NewLocalRuntime(cfg.Sandbox.BaseDir, cfg.Process.LogWindowBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("sandbox runtime init: %w", err)
	}

	instancesPath, err := store.ResolveInstancesPath(cfg.Store.InstancesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve instances path: %w", err)
	}

	lockTimeout, err := config.DurationOrDefault(cfg.Store.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("parse store lock timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.Store.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return nil, nil, fmt.Errorf("parse store lock retry: %w", err)
	}
	lockMaxRetry := cfg.Store.LockMaxRetry
	if lockMaxRetry <= 0 {
		lockMaxRetry = config.DefaultStoreLockMaxRetry
	}

	records, err := store.NewMetadataStore(instancesPath, &store.FileLockConfig{
		LockTimeout:  lockTimeout,
		LockRetry:    lockRetry,
		LockMaxRetry: lockMaxRetry,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("metadata store init: %w", err)
	}

	requestTimeout, err := config.DurationOrDefault(cfg.Deploy.RequestTimeout, config.DefaultDeployRequestTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("parse deploy request timeout: %w", err)
	}
	dispatch := deploy.NewHTTPDispatchClient(cfg.Deploy.DispatchURL, requestTimeout)

	orch, err := orchestrator.New(*cfg, rt, records, dispatch)
	if err != nil {
		return nil, nil, err
	}
	return orch, records, nil
}
