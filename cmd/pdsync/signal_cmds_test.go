package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julispace/proton-drive-sync/internal/state"
)

func withTempStateDir(t *testing.T) string {
	t.Helper()

	oldDir, oldQuiet := flagStateDir, flagQuiet
	t.Cleanup(func() { flagStateDir, flagQuiet = oldDir, oldQuiet })

	flagStateDir = t.TempDir()
	flagQuiet = true

	return flagStateDir
}

func TestPushControlSignal_EnqueuesTag(t *testing.T) {
	dir := withTempStateDir(t)

	ctx := context.Background()
	require.NoError(t, pushControlSignal(ctx, state.SignalStop))

	store, err := state.Open(ctx, filepath.Join(dir, stateDBFileName), nil)
	require.NoError(t, err)
	defer store.Close()

	tag, err := store.PopSignal(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.SignalStop, tag)
}

func TestNewStopCmd_PushesStopSignal(t *testing.T) {
	dir := withTempStateDir(t)

	cmd := newStopCmd()
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.RunE(cmd, nil))

	store, err := state.Open(context.Background(), filepath.Join(dir, stateDBFileName), nil)
	require.NoError(t, err)
	defer store.Close()

	tag, err := store.PopSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.SignalStop, tag)
}

func TestNewPauseCmd_PushesPauseSignal(t *testing.T) {
	dir := withTempStateDir(t)

	cmd := newPauseCmd()
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.RunE(cmd, nil))

	store, err := state.Open(context.Background(), filepath.Join(dir, stateDBFileName), nil)
	require.NoError(t, err)
	defer store.Close()

	tag, err := store.PopSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.SignalPause, tag)
}

func TestNewResumeCmd_PushesResumeSignal(t *testing.T) {
	dir := withTempStateDir(t)

	cmd := newResumeCmd()
	cmd.SetContext(context.Background())
	require.NoError(t, cmd.RunE(cmd, nil))

	store, err := state.Open(context.Background(), filepath.Join(dir, stateDBFileName), nil)
	require.NoError(t, err)
	defer store.Close()

	tag, err := store.PopSignal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.SignalResume, tag)
}
