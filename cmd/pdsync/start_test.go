package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMinimalConfig(t *testing.T, path string) {
	t.Helper()

	cfg := map[string]any{
		"sync_dirs": []map[string]any{
			{"source_path": t.TempDir(), "remote_root": "/sync"},
		},
		"sync_concurrency": 2,
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestRunStart_FailsWhenLockHeld(t *testing.T) {
	stateDir := withTempStateDir(t)

	configPath := filepath.Join(t.TempDir(), "config.json")
	writeMinimalConfig(t, configPath)

	oldCfg := flagConfigPath
	defer func() { flagConfigPath = oldCfg }()
	flagConfigPath = configPath

	release, err := acquireLock(filepath.Join(stateDir, pidFileName))
	require.NoError(t, err)
	defer release()

	err = runStart(context.Background(), true, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestRunStart_FailsAuthenticationWithUnconfiguredProvider(t *testing.T) {
	_ = withTempStateDir(t)

	configPath := filepath.Join(t.TempDir(), "config.json")
	writeMinimalConfig(t, configPath)

	oldCfg := flagConfigPath
	defer func() { flagConfigPath = oldCfg }()
	flagConfigPath = configPath

	err := runStart(context.Background(), true, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authenticating")
}
