package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julispace/proton-drive-sync/internal/state"
	"github.com/julispace/proton-drive-sync/internal/watcher"
)

type fakeStore struct {
	hashes   map[string]string
	mappings map[string]*state.NodeMapping
	jobs     []state.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: map[string]string{}, mappings: map[string]*state.NodeMapping{}}
}

func (f *fakeStore) GetFileHash(_ context.Context, localPath string) (string, error) {
	if h, ok := f.hashes[localPath]; ok {
		return h, nil
	}

	return "", state.ErrNotFound
}

func (f *fakeStore) GetNodeMapping(_ context.Context, localPath string) (*state.NodeMapping, error) {
	if m, ok := f.mappings[localPath]; ok {
		return m, nil
	}

	return nil, state.ErrNotFound
}

func (f *fakeStore) Enqueue(_ context.Context, job state.Job) (int64, error) {
	f.jobs = append(f.jobs, job)
	return int64(len(f.jobs)), nil
}

func fakeHash(content string) HashFunc {
	return func(path string) (string, error) {
		return content, nil
	}
}

func newClassifierWithHash(store *fakeStore, hash string) *Classifier {
	c := New(store, store, store, nil)
	c.hashFile = fakeHash(hash)

	return c
}

func TestProcessBatch_CreateIsEnqueued(t *testing.T) {
	store := newFakeStore()
	c := newClassifierWithHash(store, "hash-a")

	n, err := c.ProcessBatch(context.Background(), []watcher.FileChange{
		{SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "a.txt", Kind: watcher.KindExistsNew},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.jobs, 1)
	assert.Equal(t, state.EventCreate, store.jobs[0].EventType)
	assert.Equal(t, "hash-a", store.jobs[0].ContentHash)
}

func TestProcessBatch_UnchangedHashDropsEvent(t *testing.T) {
	store := newFakeStore()
	store.hashes["/sync/a.txt"] = "samehash"

	c := newClassifierWithHash(store, "samehash")

	n, err := c.ProcessBatch(context.Background(), []watcher.FileChange{
		{SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "a.txt", Kind: watcher.KindExistsChanged},
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.jobs)
}

func TestProcessBatch_ChangedHashEmitsUpdate(t *testing.T) {
	store := newFakeStore()
	store.hashes["/sync/a.txt"] = "oldhash"

	c := newClassifierWithHash(store, "newhash")

	n, err := c.ProcessBatch(context.Background(), []watcher.FileChange{
		{SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "a.txt", Kind: watcher.KindExistsChanged},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, state.EventUpdate, store.jobs[0].EventType)
	assert.Equal(t, "newhash", store.jobs[0].ContentHash)
}

func TestProcessBatch_DeleteIsEnqueued(t *testing.T) {
	store := newFakeStore()
	c := newClassifierWithHash(store, "")

	n, err := c.ProcessBatch(context.Background(), []watcher.FileChange{
		{SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "a.txt", Kind: watcher.KindGone},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, state.EventDelete, store.jobs[0].EventType)
}

func TestProcessBatch_RenameWithinSameDirectory(t *testing.T) {
	store := newFakeStore()
	store.hashes["/sync/dir/b.txt"] = "content-hash"
	store.mappings["/sync/dir/b.txt"] = &state.NodeMapping{LocalPath: "/sync/dir/b.txt", NodeUID: "uid-1"}

	c := newClassifierWithHash(store, "content-hash")

	now := time.Now()
	n, err := c.ProcessBatch(context.Background(), []watcher.FileChange{
		{SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "dir/b.txt", Kind: watcher.KindGone, DetectedAt: now},
		{
			SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "dir/c.txt", Kind: watcher.KindExistsNew,
			DetectedAt: now,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "both raw events fold into a single RENAME job")
	require.Len(t, store.jobs, 1)
	assert.Equal(t, state.EventRename, store.jobs[0].EventType)
	assert.Equal(t, "/sync/dir/b.txt", store.jobs[0].OldLocalPath)
	assert.Equal(t, "/sync/dir/c.txt", store.jobs[0].LocalPath)
}

func TestProcessBatch_MoveAcrossDirectories(t *testing.T) {
	store := newFakeStore()
	store.hashes["/sync/dir/b.txt"] = "content-hash"
	store.mappings["/sync/dir/b.txt"] = &state.NodeMapping{LocalPath: "/sync/dir/b.txt", NodeUID: "uid-1"}

	c := newClassifierWithHash(store, "content-hash")

	now := time.Now()
	n, err := c.ProcessBatch(context.Background(), []watcher.FileChange{
		{SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "dir/b.txt", Kind: watcher.KindGone, DetectedAt: now},
		{
			SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "other/b.txt", Kind: watcher.KindExistsNew,
			DetectedAt: now,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, state.EventMove, store.jobs[0].EventType)
}

func TestProcessBatch_NoRenameWithoutPriorMapping(t *testing.T) {
	store := newFakeStore()
	store.hashes["/sync/dir/b.txt"] = "content-hash"
	// No NodeMapping recorded for b.txt: rename correlation must not fire.

	c := newClassifierWithHash(store, "content-hash")

	n, err := c.ProcessBatch(context.Background(), []watcher.FileChange{
		{SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "dir/b.txt", Kind: watcher.KindGone},
		{SyncRoot: "/sync", RemoteRoot: "/Remote", RelPath: "dir/c.txt", Kind: watcher.KindExistsNew},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
