package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/harunnryd/butai/internal/errors"
	"github.com/harunnryd/butai/internal/pathutil"
)

// InstanceMetadata is the durable record for one sandbox instance. The
// runtime handle fields stay empty until setup completes; the protection
// lists are fixed once loaded from the template.
type InstanceMetadata struct {
	RunID           string    `json:"runId"`
	TemplateName    string    `json:"templateName"`
	ProjectName     string    `json:"projectName"`
	StartTime       time.Time `json:"startTime"`
	PreviewURL      string    `json:"previewUrl,omitempty"`
	TunnelURL       string    `json:"tunnelUrl,omitempty"`
	ProcessID       string    `json:"processId,omitempty"`
	TunnelProcessID string    `json:"tunnelProcessId,omitempty"`
	AllocatedPort   int       `json:"allocatedPort,omitempty"`
	DontTouch       []string  `json:"donttouch_files"`
	Redacted        []string  `json:"redacted_files"`
}

// clone guards the cache against aliasing: callers get their own copy
// to read or mutate, never the cached pointer.
func (m *InstanceMetadata) clone() *InstanceMetadata {
	dup := *m
	dup.DontTouch = append([]string(nil), m.DontTouch...)
	dup.Redacted = append([]string(nil), m.Redacted...)
	return &dup
}

// MetadataStore is a read-through cache over per-instance JSON records.
// Durable writes go through an atomic rename guarded by a file lock so
// concurrent orchestrator processes never interleave partial writes.
type MetadataStore struct {
	baseDir string
	lockCfg *FileLockConfig

	mu    sync.RWMutex
	cache map[string]*InstanceMetadata
}

// ResolveInstancesPath resolves the configured instances directory,
// falling back to ~/.butai/instances.
func ResolveInstancesPath(configured string) (string, error) {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return pathutil.Expand(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".butai", "instances"), nil
}

func NewMetadataStore(baseDir string, lockCfg *FileLockConfig) (*MetadataStore, error) {
	if lockCfg == nil {
		lockCfg = DefaultFileLockConfig()
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "configs"), 0o755); err != nil {
		return nil, fmt.Errorf("create instances dir: %w", err)
	}
	return &MetadataStore{
		baseDir: baseDir,
		lockCfg: lockCfg,
		cache:   make(map[string]*InstanceMetadata),
	}, nil
}

func (s *MetadataStore) metadataPath(runID string) string {
	return filepath.Join(s.baseDir, runID+".json")
}

// Put persists the record and refreshes the cache entry.
func (s *MetadataStore) Put(meta *InstanceMetadata) error {
	if meta.RunID == "" {
		return errors.InvalidInput("instance metadata requires a run id")
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal instance metadata: %w", err)
	}

	fl, err := NewFileLock(meta.RunID, s.baseDir, s.lockCfg)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	if err := atomic.WriteFile(s.metadataPath(meta.RunID), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write instance metadata: %w", err)
	}

	s.mu.Lock()
	s.cache[meta.RunID] = meta.clone()
	s.mu.Unlock()

	return nil
}

// Get returns a copy of the cached record, falling back to durable
// storage. Callers may mutate the copy freely; changes only stick
// through Put.
func (s *MetadataStore) Get(runID string) (*InstanceMetadata, error) {
	s.mu.RLock()
	if meta, ok := s.cache[runID]; ok {
		out := meta.clone()
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	meta, err := s.readFromDisk(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[runID] = meta
	s.mu.Unlock()

	return meta.clone(), nil
}

func (s *MetadataStore) readFromDisk(runID string) (*InstanceMetadata, error) {
	data, err := os.ReadFile(s.metadataPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(fmt.Sprintf("instance %s not found", runID))
		}
		return nil, fmt.Errorf("read instance metadata: %w", err)
	}

	var meta InstanceMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode instance metadata %s: %w", runID, err)
	}
	return &meta, nil
}

// List enumerates every stored instance with a single directory scan.
// Unreadable records are skipped with a warning rather than failing the
// whole listing.
func (s *MetadataStore) List() ([]*InstanceMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("scan instances dir: %w", err)
	}

	var out []*InstanceMetadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		runID := strings.TrimSuffix(entry.Name(), ".json")
		meta, err := s.readFromDisk(runID)
		if err != nil {
			slog.Warn("Skipping unreadable instance record", "run_id", runID, "error", err)
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// Delete removes the durable record and drops the cache entry.
func (s *MetadataStore) Delete(runID string) error {
	fl, err := NewFileLock(runID, s.baseDir, s.lockCfg)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	if err := os.Remove(s.metadataPath(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete instance metadata: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, runID)
	s.mu.Unlock()

	return nil
}

// Invalidate drops the cache entry without touching durable storage.
func (s *MetadataStore) Invalidate(runID string) {
	s.mu.Lock()
	delete(s.cache, runID)
	s.mu.Unlock()
}

// PutConfig stores raw config text under an opaque key. Deploy reads it
// back with GetConfig; the key convention is "config-" + run id.
func (s *MetadataStore) PutConfig(key, content string) error {
	if key == "" {
		return errors.InvalidInput("config key must not be empty")
	}
	path := filepath.Join(s.baseDir, "configs", key)
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("write config %s: %w", key, err)
	}
	return nil
}

// GetConfig returns the raw config text stored under key.
func (s *MetadataStore) GetConfig(key string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, "configs", key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NotFound(fmt.Sprintf("config %s not found", key))
		}
		return "", fmt.Errorf("read config %s: %w", key, err)
	}
	return string(data), nil
}

// ConfigKey builds the durable-store key for an instance's infra config.
func ConfigKey(runID string) string {
	return "config-" + runID
}
