// Package engine implements C7: it wires the Watcher/Classifier pipeline
// (C2→C3→C4) and the Processor pipeline (C5→C4→C6) together, and owns the
// process's shutdown, pause/resume, and config-reload behavior via the
// signal queue.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/julispace/proton-drive-sync/internal/classifier"
	"github.com/julispace/proton-drive-sync/internal/config"
	"github.com/julispace/proton-drive-sync/internal/drive"
	"github.com/julispace/proton-drive-sync/internal/processor"
	"github.com/julispace/proton-drive-sync/internal/state"
	"github.com/julispace/proton-drive-sync/internal/watcher"
)

// defaultSignalPoll is how often the engine checks the signal queue for a
// new stop/pause/resume/reload tag.
const defaultSignalPoll = 1 * time.Second

// changeBatchBuffer bounds how many in-flight FileChange batches the
// classifier consumer may lag behind the watchers by before a send blocks.
const changeBatchBuffer = 32

// Config bundles everything the engine needs to start a sync session.
type Config struct {
	ConfigPath  string // re-read on a `reload` signal
	NoWatch     bool   // skip live fsnotify watching; scan-diff only
	DryRun      bool
	StartPaused bool

	SignalPoll time.Duration // default 1s
}

func (c Config) withDefaults() Config {
	if c.SignalPoll <= 0 {
		c.SignalPoll = defaultSignalPoll
	}

	return c
}

// Engine owns one running sync session: it recovers startup state, starts a
// scan+watch goroutine per configured sync directory, runs the classifier
// and processor, and polls the signal queue until told to stop.
type Engine struct {
	store  *state.Store
	client drive.Client
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	syncCfg *config.Config
	runners map[string]*dirRunner
	changes chan []watcher.FileChange

	classifier *classifier.Classifier
	processor  *processor.Processor
}

// dirRunner tracks the scan+watch goroutine for a single configured
// sync_dirs entry, so a `reload` can stop/start individual directories.
type dirRunner struct {
	dir    config.SyncDir
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an Engine. syncCfg is the already-loaded, already-validated
// configuration; cfg.ConfigPath lets a `reload` signal re-read it from disk.
func New(store *state.Store, client drive.Client, syncCfg *config.Config, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:   store,
		client:  client,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		syncCfg: syncCfg,
		runners: make(map[string]*dirRunner),
	}
}

// Run recovers any PROCESSING jobs left by a prior crash, starts the
// watch/classify/process pipeline, and blocks until ctx is cancelled or a
// `stop` signal is popped from the queue. It returns nil on any clean
// shutdown path.
func (e *Engine) Run(ctx context.Context) error {
	runID := uuid.New().String()
	logger := e.logger.With("run_id", runID)
	e.logger = logger

	if _, err := e.store.RecoverStartup(ctx, time.Now().Unix()); err != nil {
		return fmt.Errorf("engine: startup recovery: %w", err)
	}

	logger.Info("engine starting", "sync_dirs", len(e.syncCfg.SyncDirs))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes := make(chan []watcher.FileChange, changeBatchBuffer)
	e.changes = changes

	e.classifier = classifier.New(e.store, e.store, e.store, e.logger)

	proc, err := processor.New(e.store, e.client, processor.Config{
		Concurrency: e.syncCfg.SyncConcurrency,
		DryRun:      e.cfg.DryRun,
	}, e.logger)
	if err != nil {
		return fmt.Errorf("engine: building processor: %w", err)
	}

	e.processor = proc
	if e.cfg.StartPaused {
		e.processor.Pause()
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return e.consumeChanges(gctx, changes) })
	g.Go(func() error { return e.processor.Run(gctx) })
	g.Go(func() error { return e.signalLoop(runCtx, cancel) })

	e.mu.Lock()
	for _, d := range e.syncCfg.SyncDirs {
		e.startDir(runCtx, d, changes)
	}
	e.mu.Unlock()

	defer e.stopAllDirs()

	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine: pipeline error: %w", err)
	}

	return nil
}

// consumeChanges drains watcher batches and hands them to the classifier
// until ctx is cancelled.
func (e *Engine) consumeChanges(ctx context.Context, changes <-chan []watcher.FileChange) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-changes:
			n, err := e.classifier.ProcessBatch(ctx, batch)
			if err != nil {
				e.logger.Error("engine: classifying batch failed", "error", err)
				continue
			}

			if n > 0 {
				e.logger.Debug("engine: batch classified", "jobs_enqueued", n)
			}
		}
	}
}

// signalLoop polls the signal queue at a fixed tick and acts on whatever it
// finds: `stop` cancels the run, `pause`/`resume` toggle the processor,
// `reload` re-reads the config file and diffs the active sync directories.
func (e *Engine) signalLoop(ctx context.Context, stop context.CancelFunc) error {
	ticker := time.NewTicker(e.cfg.SignalPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.drainSignals(ctx, stop)
		}
	}
}

func (e *Engine) drainSignals(ctx context.Context, stop context.CancelFunc) {
	for {
		tag, err := e.store.PopSignal(ctx)
		if err == state.ErrNotFound {
			return
		}

		if err != nil {
			e.logger.Error("engine: reading signal queue failed", "error", err)
			return
		}

		e.handleSignal(ctx, tag, stop)
	}
}

func (e *Engine) handleSignal(ctx context.Context, tag string, stop context.CancelFunc) {
	switch tag {
	case state.SignalStop:
		e.logger.Info("engine: stop signal received")
		stop()
	case state.SignalPause:
		e.logger.Info("engine: pause signal received")
		e.processor.Pause()
	case state.SignalResume:
		e.logger.Info("engine: resume signal received")
		e.processor.Resume()
	case state.SignalReload:
		e.logger.Info("engine: reload signal received")
		e.reload(ctx)
	default:
		e.logger.Warn("engine: ignoring unrecognized signal", "tag", tag)
	}
}

// reload re-reads the config file and starts/stops sync-directory runners to
// match the new sync_dirs list. sync_concurrency changes take effect only on
// the next restart, since the processor's pool size is fixed at construction.
func (e *Engine) reload(ctx context.Context) {
	newCfg, err := config.Load(e.cfg.ConfigPath)
	if err != nil {
		e.logger.Warn("engine: reload failed, keeping current config", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wanted := make(map[string]config.SyncDir, len(newCfg.SyncDirs))
	for _, d := range newCfg.SyncDirs {
		wanted[d.SourcePath] = d
	}

	for source, r := range e.runners {
		if _, ok := wanted[source]; !ok {
			e.logger.Info("engine: reload stopping removed sync dir", "path", source)
			r.cancel()
			<-r.done
			delete(e.runners, source)
		}
	}

	for source, d := range wanted {
		if _, ok := e.runners[source]; ok {
			continue
		}

		e.logger.Info("engine: reload starting added sync dir", "path", source)
		e.startDir(ctx, d, e.changes)
	}

	if newCfg.SyncConcurrency != e.syncCfg.SyncConcurrency {
		e.logger.Warn("engine: sync_concurrency change requires a restart to take effect",
			"current", e.syncCfg.SyncConcurrency, "requested", newCfg.SyncConcurrency)
	}

	e.syncCfg = newCfg

	if snapshot, err := json.Marshal(newCfg); err == nil {
		if err := e.store.SnapshotConfig(ctx, "active", string(snapshot)); err != nil {
			e.logger.Warn("engine: snapshotting reloaded config failed", "error", err)
		}
	}
}

// startDir runs the startup scan-diff for d synchronously, then — unless
// NoWatch is set — launches a live fsnotify watcher in the background.
// Must be called with e.mu held.
func (e *Engine) startDir(ctx context.Context, d config.SyncDir, changes chan<- []watcher.FileChange) {
	excluder := watcher.NewExcluder(e.syncCfg.ExcludePatterns)
	scanner := watcher.NewScanner(e.store, excluder, e.logger)

	scanChanges, err := scanner.FullScan(ctx, d.SourcePath, d.RemoteRoot)
	if err != nil {
		e.logger.Error("engine: startup scan failed", "path", d.SourcePath, "error", err)
	} else if len(scanChanges) > 0 {
		select {
		case changes <- scanChanges:
		case <-ctx.Done():
			return
		}
	}

	if e.cfg.NoWatch {
		return
	}

	dirCtx, dirCancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r := &dirRunner{dir: d, cancel: dirCancel, done: done}
	e.runners[d.SourcePath] = r

	w := watcher.NewWatcher(scanner, excluder, e.logger)

	go func() {
		defer close(done)

		if watchErr := w.Watch(dirCtx, d.SourcePath, d.RemoteRoot, changes); watchErr != nil && dirCtx.Err() == nil {
			e.logger.Error("engine: watcher exited with error", "path", d.SourcePath, "error", watchErr)
		}
	}()
}

func (e *Engine) stopAllDirs() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.runners {
		r.cancel()
		<-r.done
	}

	e.runners = make(map[string]*dirRunner)
}
