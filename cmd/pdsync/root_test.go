package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"start", "stop", "pause", "resume", "reset", "status"}
	for _, name := range expected {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true

				break
			}
		}

		assert.True(t, found, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "state-dir", "quiet", "json"} {
		flag := cmd.PersistentFlags().Lookup(name)
		assert.NotNil(t, flag, "expected persistent flag %q not found", name)
	}
}

func TestResolveConfigPath_UsesFlagWhenSet(t *testing.T) {
	old := flagConfigPath
	defer func() { flagConfigPath = old }()

	flagConfigPath = "/tmp/custom-config.json"

	path, err := resolveConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-config.json", path)
}

func TestResolveStateDir_UsesFlagAndCreatesIt(t *testing.T) {
	old := flagStateDir
	defer func() { flagStateDir = old }()

	dir := filepath.Join(t.TempDir(), "nested", "state")
	flagStateDir = dir

	got, err := resolveStateDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestBuildLogger_WritesToStateDir(t *testing.T) {
	dir := t.TempDir()

	old := flagQuiet
	defer func() { flagQuiet = old }()
	flagQuiet = true

	logger, closeLog, err := buildLogger(dir)
	require.NoError(t, err)
	require.NotNil(t, logger)

	defer closeLog()

	logger.Info("hello")

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
