package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTestConfig(t, `{
		"sync_dirs": [
			{"source_path": "/home/user/Documents", "remote_root": "/Documents"}
		],
		"sync_concurrency": 4,
		"exclude_patterns": ["*.tmp", "node_modules/**"]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.SyncConcurrency)
	assert.Len(t, cfg.SyncDirs, 1)
	assert.Equal(t, "/Documents", cfg.SyncDirs[0].RemoteRoot)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTestConfig(t, `{
		"sync_dirs": [
			{"source_path": "/home/user/Documents", "remote_root": "/Documents"}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSyncConcurrency, cfg.SyncConcurrency)
	assert.Empty(t, cfg.ExcludePatterns)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeTestConfig(t, `{ not valid json`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_RejectsEmptySyncDirs(t *testing.T) {
	cfg := DefaultConfig()

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_dirs must contain at least one entry")
}

func TestValidate_RejectsZeroConcurrency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncDirs = []SyncDir{{SourcePath: "/a", RemoteRoot: "/a"}}
	cfg.SyncConcurrency = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_concurrency must be >= 1")
}

func TestValidate_RejectsRelativeSourcePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncDirs = []SyncDir{{SourcePath: "Documents", RemoteRoot: "/Documents"}}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")
}

func TestValidate_RejectsOverlappingSyncDirs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncDirs = []SyncDir{
		{SourcePath: "/home/user/Documents", RemoteRoot: "/Documents"},
		{SourcePath: "/home/user/Documents/Sub", RemoteRoot: "/Sub"},
	}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps with")
}

func TestValidate_AcceptsSiblingSyncDirs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncDirs = []SyncDir{
		{SourcePath: "/home/user/Documents", RemoteRoot: "/Documents"},
		{SourcePath: "/home/user/Photos", RemoteRoot: "/Photos"},
	}

	assert.NoError(t, Validate(cfg))
}
