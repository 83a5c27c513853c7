// Package classifier implements C3: turning a batch of watcher.FileChange
// records into typed state.Job rows, consulting the state store for prior
// content hashes and remote-node mappings.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/julispace/proton-drive-sync/internal/state"
	"github.com/julispace/proton-drive-sync/internal/watcher"
	"github.com/julispace/proton-drive-sync/pkg/contenthash"
)

// defaultRenameWindow is R from section 4.3: the maximum gap between a
// DELETE and a matching CREATE for the pair to be treated as a rename/move.
const defaultRenameWindow = 1 * time.Second

// HashReader is the subset of the state store used to detect unchanged
// content and to correlate rename/move pairs.
type HashReader interface {
	GetFileHash(ctx context.Context, localPath string) (string, error)
}

// MappingReader resolves a path's current remote mapping, needed to fill in
// oldRemotePath when emitting a RENAME or MOVE.
type MappingReader interface {
	GetNodeMapping(ctx context.Context, localPath string) (*state.NodeMapping, error)
}

// Enqueuer persists a job, applying the store's own coalescing rule.
type Enqueuer interface {
	Enqueue(ctx context.Context, job state.Job) (int64, error)
}

// HashFunc computes the content hash of a local file. Overridable in tests.
type HashFunc func(path string) (string, error)

// Classifier turns FileChange batches into persisted SyncJob rows.
type Classifier struct {
	hashes       HashReader
	mappings     MappingReader
	enqueuer     Enqueuer
	hashFile     HashFunc
	renameWindow time.Duration
	logger       *slog.Logger
}

// New creates a Classifier. store satisfies HashReader, MappingReader, and
// Enqueuer simultaneously (it is *state.Store in production).
func New(hashes HashReader, mappings MappingReader, enqueuer Enqueuer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Classifier{
		hashes:       hashes,
		mappings:     mappings,
		enqueuer:     enqueuer,
		hashFile:     contenthash.SumFile,
		renameWindow: defaultRenameWindow,
		logger:       logger,
	}
}

// rawJob is an intermediate, not-yet-enqueued representation distinguishing
// "drop this event" (nil) from a job to persist.
type rawJob struct {
	job        state.Job
	consumed   bool // true once folded into a rename/move pair
	detectedAt time.Time
}

// ProcessBatch classifies every change in batch, detects rename/move pairs,
// and enqueues the resulting jobs. Returns the number of jobs enqueued
// (after coalescing may have merged some into existing rows).
func (c *Classifier) ProcessBatch(ctx context.Context, batch []watcher.FileChange) (int, error) {
	raws := make([]*rawJob, 0, len(batch))

	for _, change := range batch {
		rj, err := c.classifyOne(ctx, change)
		if err != nil {
			return 0, err
		}

		if rj != nil {
			raws = append(raws, rj)
		}
	}

	c.correlateRenames(ctx, raws)

	count := 0

	for _, rj := range raws {
		if rj.consumed {
			continue
		}

		if _, err := c.enqueuer.Enqueue(ctx, rj.job); err != nil {
			return count, fmt.Errorf("classifier: enqueue %s: %w", rj.job.LocalPath, err)
		}

		count++
	}

	return count, nil
}

// classifyOne implements step 2 of section 4.3 for a single raw change.
func (c *Classifier) classifyOne(ctx context.Context, change watcher.FileChange) (*rawJob, error) {
	localPath := change.LocalPath()
	remotePath := change.RemotePath()

	switch change.Kind {
	case watcher.KindExistsNew:
		job := state.Job{EventType: state.EventCreate, LocalPath: localPath, RemotePath: remotePath}

		if !change.IsDir {
			hash, err := c.hashFile(localPath)
			if err != nil {
				return nil, fmt.Errorf("classifier: hashing %s: %w", localPath, err)
			}

			job.ContentHash = hash
		}

		return &rawJob{job: job, detectedAt: change.DetectedAt}, nil

	case watcher.KindExistsChanged:
		hash, err := c.hashFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("classifier: hashing %s: %w", localPath, err)
		}

		prior, err := c.hashes.GetFileHash(ctx, localPath)
		if err == nil && contenthash.Equal(prior, hash) {
			c.logger.Debug("classifier: content unchanged, dropping event", "path", localPath)
			return nil, nil //nolint:nilnil
		}

		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("classifier: reading file_hashes for %s: %w", localPath, err)
		}

		return &rawJob{job: state.Job{
			EventType: state.EventUpdate, LocalPath: localPath, RemotePath: remotePath, ContentHash: hash,
		}, detectedAt: change.DetectedAt}, nil

	case watcher.KindGone:
		return &rawJob{job: state.Job{
			EventType: state.EventDelete, LocalPath: localPath, RemotePath: remotePath,
		}, detectedAt: change.DetectedAt}, nil

	default:
		return nil, fmt.Errorf("classifier: unrecognized change kind for %s", localPath)
	}
}

// correlateRenames implements step 3 of section 4.3: a DELETE paired with a
// CREATE of the same content within renameWindow becomes a RENAME (same
// parent directory) or MOVE (different parent); both raw jobs are consumed.
func (c *Classifier) correlateRenames(ctx context.Context, raws []*rawJob) {
	for _, del := range raws {
		if del.consumed || del.job.EventType != state.EventDelete {
			continue
		}

		match := c.findRenameMatch(ctx, del, raws)
		if match == nil {
			continue
		}

		c.foldIntoRename(ctx, del, match)
	}
}

func (c *Classifier) findRenameMatch(ctx context.Context, del *rawJob, raws []*rawJob) *rawJob {
	// A rename/move target must already have a confirmed remote mapping;
	// otherwise there is nothing to relocate and DELETE+CREATE stand as-is.
	if _, err := c.mappings.GetNodeMapping(ctx, del.job.LocalPath); err != nil {
		return nil
	}

	oldHash, err := c.hashes.GetFileHash(ctx, del.job.LocalPath)
	if err != nil {
		return nil
	}

	for _, cand := range raws {
		if cand.consumed || cand == del || cand.job.EventType != state.EventCreate {
			continue
		}

		if cand.detectedAt.Sub(del.detectedAt).Abs() > c.renameWindow {
			continue
		}

		if contenthash.Equal(cand.job.ContentHash, oldHash) {
			return cand
		}
	}

	return nil
}

func (c *Classifier) foldIntoRename(ctx context.Context, del, create *rawJob) {
	if _, err := c.mappings.GetNodeMapping(ctx, del.job.LocalPath); err != nil {
		c.logger.Warn("classifier: rename match lost its node mapping", "path", del.job.LocalPath)
		return
	}

	eventType := state.EventRename
	if filepath.Dir(del.job.LocalPath) != filepath.Dir(create.job.LocalPath) {
		eventType = state.EventMove
	}

	create.job.EventType = eventType
	create.job.OldLocalPath = del.job.LocalPath
	create.job.OldRemotePath = del.job.RemotePath
	create.job.ContentHash = ""

	del.consumed = true

	c.logger.Debug("classifier: correlated rename/move",
		"old_path", del.job.LocalPath, "new_path", create.job.LocalPath, "event", eventType)
}
