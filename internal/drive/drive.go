// Package drive defines C6, the DriveClient capability set: the boundary
// between pdsync and the remote end-to-end-encrypted store. This package
// holds only the interface and its error vocabulary — the concrete client
// (SRP login, OpenPGP decryption, the wire protocol) is an external
// collaborator outside this module's scope.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

// Sentinel errors a Client implementation wraps its failures with, so the
// processor can route them through drive.Classify without depending on
// transport internals.
var (
	ErrNotFound        = errors.New("drive: node not found")
	ErrAlreadyExists   = errors.New("drive: node already exists")
	ErrAlreadyTrashed  = errors.New("drive: node already trashed")
	ErrConnectionReset = errors.New("drive: connection reset")
	ErrRateLimited     = errors.New("drive: rate limited")
	ErrConflict        = errors.New("drive: revision conflict")
	ErrIntegrity       = errors.New("drive: integrity mismatch")
	ErrDecryptFailed   = errors.New("drive: decrypt failed")
	ErrPermanent       = errors.New("drive: permanent failure")
)

// DriveError wraps a sentinel with a human-readable message and, for rate
// limiting, the server's suggested retry delay.
type DriveError struct {
	Err        error
	Message    string
	RetryAfter int64 // seconds; 0 if the server gave no hint
}

func (e *DriveError) Error() string {
	return fmt.Sprintf("drive: %s: %s", e.Err, e.Message)
}

func (e *DriveError) Unwrap() error { return e.Err }

// NodeKind distinguishes files from folders in IterateChildren results.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindFolder
)

// Revision describes the currently active revision of a remote file.
type Revision struct {
	SHA1 string // hex, case-insensitive; empty for legacy files with no hash
	Size int64
}

// Node is one entry returned by IterateChildren.
type Node struct {
	UID      string
	Name     string
	Kind     NodeKind
	Revision *Revision // nil for folders
}

// UploadMeta carries the metadata accompanying a file's byte stream.
type UploadMeta struct {
	Size    int64
	ModTime int64 // unix millis
	SHA1    string
}

// RelocateOptions specifies the mutation(s) to apply in a single relocate
// call: a rename, a reparent, or both.
type RelocateOptions struct {
	NewParentUID string // empty to keep the current parent
	NewName      string // empty to keep the current name
}

// ItemResult is one entry in the lazy sequence returned by Trash and Delete.
type ItemResult struct {
	UID string
	Err error
}

// Client is the capability set the processor calls into for every job kind.
// Every operation returns a typed success-or-error; none panics or uses
// exceptions for control flow.
type Client interface {
	// GetRootFolder returns the sync root's node uid.
	GetRootFolder(ctx context.Context) (uid string, err error)

	// IterateChildren lazily yields parent's children. The sequence MUST be
	// fully drained by callers searching for a name by iteration, so the
	// client can mark its folder cache complete.
	IterateChildren(ctx context.Context, parentUID string) iter.Seq2[Node, error]

	CreateFolder(ctx context.Context, parentUID, name string, modTime int64) (uid string, err error)

	UploadFile(ctx context.Context, parentUID, name string, meta UploadMeta, r io.Reader) (uid string, err error)

	UploadRevision(ctx context.Context, uid string, meta UploadMeta, r io.Reader) (newUID string, err error)

	Relocate(ctx context.Context, uid string, opts RelocateOptions) error

	Trash(ctx context.Context, uids []string) iter.Seq[ItemResult]

	Delete(ctx context.Context, uids []string) iter.Seq[ItemResult]
}
