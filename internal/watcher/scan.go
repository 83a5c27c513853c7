package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/julispace/proton-drive-sync/internal/state"
)

// StateReader is the subset of the state store the watcher needs to diff
// against. Satisfied by *state.Store.
type StateReader interface {
	GetFileState(ctx context.Context, localPath string) (string, error)
	ListFileStatePaths(ctx context.Context, prefix string) ([]string, error)
}

// Scanner performs the scan-and-diff pass: enumerate a sync root, compute
// each entry's change token, and compare it against FileState.
type Scanner struct {
	reader   StateReader
	excluder *Excluder
	logger   *slog.Logger
}

// NewScanner creates a Scanner backed by reader for FileState lookups.
func NewScanner(reader StateReader, excluder *Excluder, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scanner{reader: reader, excluder: excluder, logger: logger}
}

// FullScan walks syncRoot and returns one FileChange per entry whose change
// token differs from (or is absent from) FileState, plus one KindGone
// change per FileState entry no longer observed on disk.
func (s *Scanner) FullScan(ctx context.Context, syncRoot, remoteRoot string) ([]FileChange, error) {
	s.logger.Info("watcher: starting full scan", "sync_root", syncRoot)

	var changes []FileChange

	observed := make(map[string]bool)
	now := time.Now()

	walkFn := s.makeWalkFunc(ctx, syncRoot, remoteRoot, observed, &changes, now)
	if err := filepath.WalkDir(syncRoot, walkFn); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("watcher: scan canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("watcher: walking %s: %w", syncRoot, err)
	}

	priorPaths, err := s.reader.ListFileStatePaths(ctx, syncRoot)
	if err != nil {
		return nil, fmt.Errorf("watcher: listing prior file_state: %w", err)
	}

	changes = append(changes, detectGone(syncRoot, remoteRoot, priorPaths, observed, now)...)

	s.logger.Info("watcher: full scan complete", "changes", len(changes), "observed", len(observed))

	return changes, nil
}

func (s *Scanner) makeWalkFunc(
	ctx context.Context, syncRoot, remoteRoot string, observed map[string]bool, changes *[]FileChange,
	now time.Time,
) fs.WalkDirFunc {
	return func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("watcher: walk error", "path", fsPath, "error", walkErr)
			return skipEntry(d)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if fsPath == syncRoot {
			return nil
		}

		relPath, err := filepath.Rel(syncRoot, fsPath)
		if err != nil {
			return fmt.Errorf("watcher: relative path for %s: %w", fsPath, err)
		}

		relPath = norm.NFC.String(filepath.ToSlash(relPath))
		name := norm.NFC.String(d.Name())

		if d.Type()&fs.ModeSymlink != 0 {
			return skipEntry(d)
		}

		if s.excluder.Excluded(relPath, name) {
			return skipEntry(d)
		}

		if d.IsDir() && s.excluder.MarkerExcluded(fsPath) {
			return filepath.SkipDir
		}

		return s.processEntry(ctx, syncRoot, remoteRoot, relPath, d, observed, changes, now)
	}
}

func (s *Scanner) processEntry(
	ctx context.Context, syncRoot, remoteRoot, relPath string, d fs.DirEntry,
	observed map[string]bool, changes *[]FileChange, now time.Time,
) error {
	info, err := d.Info()
	if err != nil {
		s.logger.Warn("watcher: stat failed, entry may have disappeared", "path", relPath, "error", err)
		return nil
	}

	observed[relPath] = true

	token := ChangeTokenOf(info.ModTime().UnixMilli(), info.Size())
	localPath := filepath.ToSlash(filepath.Join(syncRoot, filepath.FromSlash(relPath)))

	prior, err := s.reader.GetFileState(ctx, localPath)

	switch {
	case errors.Is(err, state.ErrNotFound):
		*changes = append(*changes, FileChange{
			SyncRoot: syncRoot, RemoteRoot: remoteRoot, RelPath: relPath,
			Kind: KindExistsNew, IsDir: d.IsDir(), Size: info.Size(),
			ModTimeMs: info.ModTime().UnixMilli(), ChangeToken: token, DetectedAt: now,
		})
	case err != nil:
		return fmt.Errorf("watcher: reading file_state for %s: %w", localPath, err)
	case d.IsDir():
		// Directories only generate events on creation/deletion (section 4.2).
	case prior != token:
		*changes = append(*changes, FileChange{
			SyncRoot: syncRoot, RemoteRoot: remoteRoot, RelPath: relPath,
			Kind: KindExistsChanged, IsDir: false, Size: info.Size(),
			ModTimeMs: info.ModTime().UnixMilli(), ChangeToken: token, DetectedAt: now,
		})
	}

	return nil
}

// detectGone returns one KindGone change per FileState path under syncRoot
// that was not observed during the walk. Deletions are type-ambiguous at
// scan time (section 4.2): callers resolve directory-vs-file via NodeMapping.
func detectGone(
	syncRoot, remoteRoot string, priorPaths []string, observed map[string]bool, now time.Time,
) []FileChange {
	var changes []FileChange

	for _, localPath := range priorPaths {
		relPath, err := filepath.Rel(syncRoot, localPath)
		if err != nil {
			continue
		}

		relPath = filepath.ToSlash(relPath)
		if observed[relPath] {
			continue
		}

		changes = append(changes, FileChange{
			SyncRoot: syncRoot, RemoteRoot: remoteRoot, RelPath: relPath, Kind: KindGone, DetectedAt: now,
		})
	}

	return changes
}

func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}
