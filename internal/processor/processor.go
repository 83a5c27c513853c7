// Package processor implements C5: a bounded pool of tasks that claims ready
// jobs from the queue, executes the per-event-kind algorithm against a
// drive.Client, and persists the outcome back to the state store.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/julispace/proton-drive-sync/internal/drive"
	"github.com/julispace/proton-drive-sync/internal/state"
)

const (
	defaultTick            = 1 * time.Second
	defaultDrainTimeout    = 30 * time.Second
	defaultJSONTimeout     = 30 * time.Second
	defaultBinaryTimeout   = 60 * time.Second
	defaultMappingCacheCap = 1024
)

// JobStore is the subset of *state.Store the processor depends on.
type JobStore interface {
	ClaimJob(ctx context.Context, now int64) (*state.Job, error)
	CompleteJob(ctx context.Context, id int64, localPath string, outcome state.CompleteOutcome) error
	CompleteDelete(ctx context.Context, id int64, localPath string, isDirectory bool) error
	DeleteEntityRows(ctx context.Context, localPath string, isDirectory bool) error
	FailJob(ctx context.Context, id int64, errMsg string, retryAt int64, blocked bool) error
	ConvertToDeleteAndCreate(ctx context.Context, id int64, errMsg string, retryAt int64) error
	GetNodeMapping(ctx context.Context, localPath string) (*state.NodeMapping, error)
	RenameDirectoryPrefix(ctx context.Context, oldDir, newDir string) error
}

// Config bundles the tunables the engine resolves from the loaded
// configuration before constructing a Processor.
type Config struct {
	Concurrency   int
	DryRun        bool
	Tick          time.Duration
	DrainTimeout  time.Duration
	JSONTimeout   time.Duration
	BinaryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}

	if c.Tick <= 0 {
		c.Tick = defaultTick
	}

	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}

	if c.JSONTimeout <= 0 {
		c.JSONTimeout = defaultJSONTimeout
	}

	if c.BinaryTimeout <= 0 {
		c.BinaryTimeout = defaultBinaryTimeout
	}

	return c
}

// Processor owns the bounded task pool described in section 4.5: it claims
// ready jobs at a fixed tick, executes them concurrently up to Concurrency,
// and reports each outcome back to the store.
type Processor struct {
	store  JobStore
	client drive.Client
	logger *slog.Logger
	cfg    Config

	mappingCache *lru.Cache[string, state.NodeMapping]
	failures     *failureTracker

	rootOnce sync.Once
	rootUID  string
	rootErr  error

	paused atomic.Bool
	active atomic.Int64

	// taskDone receives a non-blocking notify every time runTask finishes, so
	// Run's select loop can fill freed slots immediately instead of waiting
	// for the next tick.
	taskDone chan struct{}

	mu        sync.Mutex
	drainErrs []error
}

// New builds a Processor. client may be nil only in tests that never reach
// the execute path (e.g. exercising pause/resume or the control loop shape).
func New(store JobStore, client drive.Client, cfg Config, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[string, state.NodeMapping](defaultMappingCacheCap)
	if err != nil {
		return nil, err
	}

	return &Processor{
		store:        store,
		client:       client,
		logger:       logger,
		cfg:          cfg.withDefaults(),
		mappingCache: cache,
		failures:     newFailureTracker(logger),
		taskDone:     make(chan struct{}, 1),
	}, nil
}

// Pause stops the control loop from claiming new jobs; tasks already running
// continue to completion.
func (p *Processor) Pause() { p.paused.Store(true) }

// Resume lets the control loop resume claiming jobs.
func (p *Processor) Resume() { p.paused.Store(false) }

// Paused reports the current pause state.
func (p *Processor) Paused() bool { return p.paused.Load() }

// Run drives the control loop until ctx is cancelled: while active tasks are
// below Concurrency and the pool isn't paused, it claims the oldest ready job
// and spawns a task for it, at the tick interval from Config. On cancellation
// it stops claiming, waits up to DrainTimeout for in-flight tasks, and
// returns — any task still running when the deadline passes is left with its
// row in PROCESSING for the next startup recovery pass.
func (p *Processor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.drain(g)
		case <-ticker.C:
			p.fillSlots(gctx, g)
		case <-p.taskDone:
			p.fillSlots(gctx, g)
		}
	}
}

func (p *Processor) fillSlots(ctx context.Context, g *errgroup.Group) {
	if p.paused.Load() {
		return
	}

	for p.active.Load() < int64(p.cfg.Concurrency) {
		job, err := p.store.ClaimJob(ctx, time.Now().Unix())
		if errors.Is(err, state.ErrNotFound) {
			return
		}

		if err != nil {
			p.logger.Error("processor: claim failed", "error", err)
			return
		}

		p.active.Add(1)

		g.Go(func() error {
			defer p.active.Add(-1)
			defer p.notifyTaskDone()
			p.runTask(ctx, job)

			return nil
		})
	}
}

// notifyTaskDone wakes Run's select loop to fill freed slots immediately,
// without blocking if a notify is already pending.
func (p *Processor) notifyTaskDone() {
	select {
	case p.taskDone <- struct{}{}:
	default:
	}
}

// runTask executes one job and recovers a panic into a logged, collected
// error rather than letting it take down the pool.
func (p *Processor) runTask(ctx context.Context, job *state.Job) {
	defer func() {
		if r := recover(); r != nil {
			err := panicErr(r)
			p.logger.Error("processor: recovered task panic",
				"job_id", job.ID, "local_path", job.LocalPath, "error", err)

			p.mu.Lock()
			p.drainErrs = append(p.drainErrs, err)
			p.mu.Unlock()
		}
	}()

	p.execute(ctx, job)
}

// drain waits for in-flight tasks to finish, up to DrainTimeout, then
// returns. Errors recovered from task panics are logged as one combined
// diagnostic, never surfaced as a fatal shutdown failure.
func (p *Processor) drain(g *errgroup.Group) error {
	done := make(chan struct{})

	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.DrainTimeout):
		p.logger.Warn("processor: drain timeout exceeded, in-flight jobs left for startup recovery",
			"timeout", p.cfg.DrainTimeout)
	}

	p.mu.Lock()
	combined := multierr.Combine(p.drainErrs...)
	p.mu.Unlock()

	if combined != nil {
		p.logger.Warn("processor: errors during shutdown drain", "error", combined)
	}

	return nil
}

func panicErr(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("processor: task panic: %w", err)
	}

	return fmt.Errorf("processor: task panic: %v", r)
}
