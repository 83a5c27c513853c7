package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// Default write-settle debounce, per section 4.2.
const defaultWriteSettle = 500 * time.Millisecond

// Default interval for the periodic safety scan that catches events missed
// by the live watcher (dropped due to backpressure, or platform gaps).
const defaultSafetyScanInterval = 5 * time.Minute

// Watcher drives the live fsnotify-backed mode: it debounces raw events per
// path by a write-settle interval, suppresses no-op changes whose
// post-settle token already matches FileState, and periodically re-runs a
// full scan as a safety net.
type Watcher struct {
	scanner        *Scanner
	excluder       *Excluder
	logger         *slog.Logger
	watcherFactory func() (FsWatcher, error)
	writeSettle    time.Duration
	safetyScan     time.Duration
	droppedEvents  atomic.Int64
}

// NewWatcher creates a Watcher. scanner is reused both for the startup
// scan-diff pass and for the periodic safety scan in live mode.
func NewWatcher(scanner *Scanner, excluder *Excluder, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		scanner:        scanner,
		excluder:       excluder,
		logger:         logger,
		watcherFactory: newFsnotifyWatcher,
		writeSettle:    defaultWriteSettle,
		safetyScan:     defaultSafetyScanInterval,
	}
}

// DroppedEvents returns the count of settled events dropped because the
// internal settle queue was full. The periodic safety scan reconciles these.
func (w *Watcher) DroppedEvents() int64 {
	return w.droppedEvents.Load()
}

// Watch monitors syncRoot for live changes and sends FileChange batches to
// out. It blocks until ctx is canceled.
func (w *Watcher) Watch(ctx context.Context, syncRoot, remoteRoot string, out chan<- []FileChange) error {
	fw, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("watcher: creating fs watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addWatchesRecursive(fw, syncRoot); err != nil {
		return fmt.Errorf("watcher: adding initial watches: %w", err)
	}

	return w.watchLoop(ctx, fw, syncRoot, remoteRoot, out)
}

func (w *Watcher) addWatchesRecursive(fw FsWatcher, syncRoot string) error {
	return filepath.WalkDir(syncRoot, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("watcher: walk error during watch setup", "path", fsPath, "error", walkErr)
			return skipEntry(d)
		}

		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(syncRoot, fsPath)
		if fsPath != syncRoot && w.excluder.Excluded(filepath.ToSlash(relPath), d.Name()) {
			return filepath.SkipDir
		}

		if w.excluder.MarkerExcluded(fsPath) {
			return filepath.SkipDir
		}

		if err := fw.Add(fsPath); err != nil {
			w.logger.Warn("watcher: failed to add watch", "path", fsPath, "error", err)
		}

		return nil
	})
}

// pendingEvent tracks a path whose settle timer is running.
type pendingEvent struct {
	path  string
	timer *time.Timer
}

func (w *Watcher) watchLoop(
	ctx context.Context, fw FsWatcher, syncRoot, remoteRoot string, out chan<- []FileChange,
) error {
	pending := make(map[string]*pendingEvent)
	settled := make(chan string, 64)
	safetyTicker := time.NewTicker(w.safetyScan)
	defer safetyTicker.Stop()

	defer func() {
		for _, p := range pending {
			p.timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handleRawEvent(fw, syncRoot, ev, pending, settled)

		case errEv, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("watcher: fs event source error", "error", errEv)

		case relPath := <-settled:
			delete(pending, relPath)

			change, ok := w.resolveSettled(ctx, syncRoot, remoteRoot, relPath)
			if ok {
				w.sendBatch(ctx, out, []FileChange{change})
			}

		case <-safetyTicker.C:
			w.runSafetyScan(ctx, syncRoot, remoteRoot, out)
		}
	}
}

func (w *Watcher) handleRawEvent(
	fw FsWatcher, syncRoot string, ev fsnotify.Event, pending map[string]*pendingEvent, settled chan<- string,
) {
	relPath, err := filepath.Rel(syncRoot, ev.Name)
	if err != nil {
		return
	}

	relPath = norm.NFC.String(filepath.ToSlash(relPath))
	name := norm.NFC.String(filepath.Base(ev.Name))

	if w.excluder.Excluded(relPath, name) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() && !w.excluder.MarkerExcluded(ev.Name) {
			if addErr := fw.Add(ev.Name); addErr != nil {
				w.logger.Warn("watcher: failed to add watch for new directory", "path", ev.Name, "error", addErr)
			}
		}
	}

	if p, ok := pending[relPath]; ok {
		p.timer.Reset(w.writeSettle)
		return
	}

	pending[relPath] = &pendingEvent{
		path: relPath,
		timer: time.AfterFunc(w.writeSettle, func() {
			select {
			case settled <- relPath:
			default:
				w.droppedEvents.Add(1)
				w.logger.Warn("watcher: settle queue full, dropping event", "path", relPath)
			}
		}),
	}
}

// resolveSettled computes the post-settle state of relPath and reports
// whether it differs from FileState enough to emit a change.
func (w *Watcher) resolveSettled(ctx context.Context, syncRoot, remoteRoot, relPath string) (FileChange, bool) {
	localPath := filepath.Join(syncRoot, filepath.FromSlash(relPath))

	now := time.Now()

	info, err := os.Lstat(localPath)
	if err != nil {
		return FileChange{
			SyncRoot: syncRoot, RemoteRoot: remoteRoot, RelPath: relPath, Kind: KindGone, DetectedAt: now,
		}, true
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		return FileChange{}, false
	}

	token := ChangeTokenOf(info.ModTime().UnixMilli(), info.Size())

	prior, err := w.scanner.reader.GetFileState(ctx, localPath)
	if err == nil && prior == token {
		return FileChange{}, false
	}

	kind := KindExistsChanged
	if err != nil {
		kind = KindExistsNew
	}

	return FileChange{
		SyncRoot: syncRoot, RemoteRoot: remoteRoot, RelPath: relPath, Kind: kind,
		IsDir: info.IsDir(), Size: info.Size(), ModTimeMs: info.ModTime().UnixMilli(),
		ChangeToken: token, DetectedAt: now,
	}, true
}

func (w *Watcher) runSafetyScan(ctx context.Context, syncRoot, remoteRoot string, out chan<- []FileChange) {
	changes, err := w.scanner.FullScan(ctx, syncRoot, remoteRoot)
	if err != nil {
		w.logger.Warn("watcher: safety scan failed", "error", err)
		return
	}

	if len(changes) > 0 {
		w.logger.Info("watcher: safety scan found reconciling changes", "count", len(changes))
		w.sendBatch(ctx, out, changes)
	}
}

func (w *Watcher) sendBatch(ctx context.Context, out chan<- []FileChange, changes []FileChange) {
	if len(changes) == 0 {
		return
	}

	select {
	case out <- changes:
	case <-ctx.Done():
	}
}
