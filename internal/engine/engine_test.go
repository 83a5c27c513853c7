package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julispace/proton-drive-sync/internal/config"
	"github.com/julispace/proton-drive-sync/internal/drive"
	"github.com/julispace/proton-drive-sync/internal/state"
)

// noopClient accepts every call with a fresh uid; engine tests exercise the
// watch/classify/enqueue/process wiring, not the per-kind algorithms already
// covered in the processor package's own tests.
type noopClient struct {
	next int
}

func (c *noopClient) GetRootFolder(context.Context) (string, error) { return "root", nil }

func (c *noopClient) IterateChildren(context.Context, string) iter.Seq2[drive.Node, error] {
	return func(yield func(drive.Node, error) bool) {}
}

func (c *noopClient) CreateFolder(context.Context, string, string, int64) (string, error) {
	c.next++
	return fmt.Sprintf("uid-%d", c.next), nil
}

func (c *noopClient) UploadFile(context.Context, string, string, drive.UploadMeta, io.Reader) (string, error) {
	c.next++
	return fmt.Sprintf("uid-%d", c.next), nil
}

func (c *noopClient) UploadRevision(context.Context, string, drive.UploadMeta, io.Reader) (string, error) {
	c.next++
	return fmt.Sprintf("uid-%d", c.next), nil
}

func (c *noopClient) Relocate(context.Context, string, drive.RelocateOptions) error { return nil }

func (c *noopClient) Trash(context.Context, []string) iter.Seq[drive.ItemResult] {
	return func(yield func(drive.ItemResult) bool) {}
}

func (c *noopClient) Delete(context.Context, []string) iter.Seq[drive.ItemResult] {
	return func(yield func(drive.ItemResult) bool) {}
}

func newTestEngine(t *testing.T, syncDirs []config.SyncDir) (*Engine, *state.Store, string) {
	t.Helper()

	ctx := context.Background()

	store, err := state.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	syncCfg := &config.Config{
		SyncDirs:        syncDirs,
		SyncConcurrency: 2,
		ExcludePatterns: []string{},
	}

	configPath := filepath.Join(t.TempDir(), "config.json")
	data, err := json.Marshal(syncCfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	e := New(store, &noopClient{}, syncCfg, Config{
		ConfigPath: configPath,
		SignalPoll: 10 * time.Millisecond,
	}, nil)

	return e, store, configPath
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestRun_FirstScanEnqueuesAndProcessesJobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hi")
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	writeFile(t, filepath.Join(root, "dir", "b.txt"), "bye")

	e, store, _ := newTestEngine(t, []config.SyncDir{{SourcePath: root, RemoteRoot: "remote"}})
	e.cfg.NoWatch = true

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)

	go func() { runDone <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := store.GetNodeMapping(context.Background(), filepath.Join(root, "a.txt"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err := store.GetNodeMapping(context.Background(), filepath.Join(root, "dir", "b.txt"))
	assert.NoError(t, err)

	_, err = store.GetNodeMapping(context.Background(), filepath.Join(root, "dir"))
	assert.NoError(t, err)

	cancel()
	require.NoError(t, <-runDone)
}

func TestRun_StopSignalEndsRun(t *testing.T) {
	root := t.TempDir()

	e, store, _ := newTestEngine(t, []config.SyncDir{{SourcePath: root, RemoteRoot: "remote"}})
	e.cfg.NoWatch = true

	ctx := context.Background()
	runDone := make(chan error, 1)

	go func() { runDone <- e.Run(ctx) }()

	require.NoError(t, store.PushSignal(ctx, state.SignalStop))

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after stop signal")
	}
}

func TestRun_StartPausedClaimsNothingUntilResumeSignal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hi")

	e, store, _ := newTestEngine(t, []config.SyncDir{{SourcePath: root, RemoteRoot: "remote"}})
	e.cfg.NoWatch = true
	e.cfg.StartPaused = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		return e.processor != nil
	}, time.Second, 5*time.Millisecond)

	time.Sleep(1200 * time.Millisecond)
	_, err := store.GetNodeMapping(ctx, filepath.Join(root, "a.txt"))
	assert.ErrorIs(t, err, state.ErrNotFound)

	require.NoError(t, store.PushSignal(ctx, state.SignalResume))

	require.Eventually(t, func() bool {
		_, err := store.GetNodeMapping(context.Background(), filepath.Join(root, "a.txt"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-runDone
}

func TestReload_StartsAddedDirAndStopsRemovedDir(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	writeFile(t, filepath.Join(rootA, "a.txt"), "hi")
	writeFile(t, filepath.Join(rootB, "b.txt"), "bye")

	e, store, configPath := newTestEngine(t, []config.SyncDir{{SourcePath: rootA, RemoteRoot: "remoteA"}})
	e.cfg.NoWatch = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := store.GetNodeMapping(context.Background(), filepath.Join(rootA, "a.txt"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	newCfg := &config.Config{
		SyncDirs: []config.SyncDir{
			{SourcePath: rootB, RemoteRoot: "remoteB"},
		},
		SyncConcurrency: 2,
		ExcludePatterns: []string{},
	}
	data, err := json.Marshal(newCfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	require.NoError(t, store.PushSignal(ctx, state.SignalReload))

	require.Eventually(t, func() bool {
		_, err := store.GetNodeMapping(context.Background(), filepath.Join(rootB, "b.txt"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	e.mu.Lock()
	_, stillRunning := e.runners[rootA]
	e.mu.Unlock()
	assert.False(t, stillRunning)

	cancel()
	<-runDone
}
