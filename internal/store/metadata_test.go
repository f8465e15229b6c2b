package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/butai/internal/errors"
)

func testLockConfig() *FileLockConfig {
	return &FileLockConfig{
		LockTimeout:  2 * time.Second,
		LockRetry:    10 * time.Millisecond,
		LockMaxRetry: 20,
	}
}

func newTestStore(t *testing.T) *MetadataStore {
	t.Helper()
	s, err := NewMetadataStore(t.TempDir(), testLockConfig())
	require.NoError(t, err)
	return s
}

func sampleMetadata(runID string) *InstanceMetadata {
	return &InstanceMetadata{
		RunID:         runID,
		TemplateName:  "base-template",
		ProjectName:   "acme-store",
		StartTime:     time.Now().UTC().Truncate(time.Second),
		PreviewURL:    "http://localhost:8123",
		ProcessID:     "proc-1",
		AllocatedPort: 8123,
		DontTouch:     []string{"package.json"},
		Redacted:      []string{".env"},
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	meta := sampleMetadata("run-1")
	require.NoError(t, s.Put(meta))

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestGetReturnsIndependentCopies(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(sampleMetadata("run-1")))

	first, err := s.Get("run-1")
	require.NoError(t, err)
	first.ProjectName = "scribbled"
	first.DontTouch[0] = "scribbled.json"

	second, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "acme-store", second.ProjectName)
	assert.Equal(t, []string{"package.json"}, second.DontTouch)
}

func TestPutDoesNotAliasCallerStruct(t *testing.T) {
	s := newTestStore(t)
	meta := sampleMetadata("run-1")
	require.NoError(t, s.Put(meta))

	meta.ProjectName = "renamed-later"

	got, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "acme-store", got.ProjectName)
}

func TestGetFallsBackToDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewMetadataStore(dir, testLockConfig())
	require.NoError(t, err)
	require.NoError(t, s1.Put(sampleMetadata("run-1")))

	// A fresh store has a cold cache and must read the durable record.
	s2, err := NewMetadataStore(dir, testLockConfig())
	require.NoError(t, err)
	got, err := s2.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "acme-store", got.ProjectName)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestPutRequiresRunID(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(&InstanceMetadata{ProjectName: "nameless"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(sampleMetadata("run-1")))
	require.NoError(t, s.Put(sampleMetadata("run-2")))

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListSkipsCorruptRecords(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(sampleMetadata("run-1")))
	require.NoError(t, os.WriteFile(filepath.Join(s.baseDir, "broken.json"), []byte("{nope"), 0o644))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "run-1", all[0].RunID)
}

func TestDeleteRemovesRecordAndCache(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(sampleMetadata("run-1")))
	require.NoError(t, s.Delete("run-1"))

	_, err := s.Get("run-1")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.NoFileExists(t, s.metadataPath("run-1"))
}

func TestDeleteMissingIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Delete("never-existed"))
}

func TestConfigRoundtrip(t *testing.T) {
	s := newTestStore(t)
	key := ConfigKey("run-1")
	require.NoError(t, s.PutConfig(key, `{"name":"acme-store"}`))

	got, err := s.GetConfig(key)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"acme-store"}`, got)
}

func TestConfigMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConfig(ConfigKey("run-9"))
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFileLockBlocksSecondHolder(t *testing.T) {
	dir := t.TempDir()
	cfg := &FileLockConfig{LockTimeout: 200 * time.Millisecond, LockRetry: 20 * time.Millisecond, LockMaxRetry: 3}

	first, err := NewFileLock("a", dir, cfg)
	require.NoError(t, err)
	defer first.Unlock()
	assert.True(t, first.IsLocked())

	_, err = NewFileLock("b", dir, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another process")
}

func TestResolveInstancesPathDefault(t *testing.T) {
	path, err := ResolveInstancesPath("")
	require.NoError(t, err)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".butai", "instances"), path)
}

func TestResolveInstancesPathConfigured(t *testing.T) {
	dir := t.TempDir()
	path, err := ResolveInstancesPath(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, path)
}
