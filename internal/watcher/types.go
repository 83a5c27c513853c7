// Package watcher implements C2, the change-detection layer: a scan-and-diff
// pass plus a live fsnotify-backed mode, both producing FileChange records
// for the classifier.
package watcher

import (
	"fmt"
	"time"
)

// Kind is the shape of filesystem change a FileChange reports. It carries
// only what the classifier needs to decide CREATE/UPDATE/DELETE — rename and
// move detection happens downstream by correlating a Delete with a Create.
type Kind int

const (
	KindUnknown Kind = iota
	KindExistsNew
	KindExistsChanged
	KindGone
)

func (k Kind) String() string {
	switch k {
	case KindExistsNew:
		return "exists_new"
	case KindExistsChanged:
		return "exists_changed"
	case KindGone:
		return "gone"
	default:
		return "unknown"
	}
}

// FileChange is one raw observation of a path's state relative to FileState,
// the watcher's cached (mtime, size) snapshot. SyncRoot/RemoteRoot let the
// classifier build both local and remote paths without a second lookup.
type FileChange struct {
	SyncRoot    string
	RemoteRoot  string
	RelPath     string // slash-separated, NFC-normalized, relative to SyncRoot
	Kind        Kind
	IsDir       bool
	Size        int64
	ModTimeMs   int64
	ChangeToken string // "<mtime_ms>:<size>", empty for KindGone
	DetectedAt  time.Time // when this change was observed, for rename-window correlation
}

// LocalPath returns the canonical absolute local path for this change.
func (c FileChange) LocalPath() string {
	if c.RelPath == "" {
		return c.SyncRoot
	}

	return c.SyncRoot + "/" + c.RelPath
}

// RemotePath returns the remote path this change maps to.
func (c FileChange) RemotePath() string {
	if c.RelPath == "" {
		return c.RemoteRoot
	}

	return c.RemoteRoot + "/" + c.RelPath
}

// ChangeTokenOf builds the spec's changeToken representation for a
// (mtime, size) pair: "<mtime_ms>:<size>".
func ChangeTokenOf(mtimeMs, size int64) string {
	return fmt.Sprintf("%d:%d", mtimeMs, size)
}
