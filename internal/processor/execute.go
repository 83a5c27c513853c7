package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/julispace/proton-drive-sync/internal/backoff"
	"github.com/julispace/proton-drive-sync/internal/drive"
	"github.com/julispace/proton-drive-sync/internal/state"
	"github.com/julispace/proton-drive-sync/internal/watcher"
	"github.com/julispace/proton-drive-sync/pkg/contenthash"
)

// execute runs the per-event-kind algorithm for job and routes any failure
// through the retry/block decision. Directory jobs are distinguished from
// file jobs by an empty ContentHash: only files are hashed by the classifier.
func (p *Processor) execute(ctx context.Context, job *state.Job) {
	if p.cfg.DryRun {
		p.logger.Info("processor: dry-run, resolving job without side effects",
			"job_id", job.ID, "event_type", job.EventType, "local_path", job.LocalPath)

		if err := p.store.CompleteJob(ctx, job.ID, job.LocalPath, state.CompleteOutcome{}); err != nil {
			p.logger.Error("processor: dry-run mark_synced failed", "job_id", job.ID, "error", err)
		}

		return
	}

	var err error

	switch job.EventType {
	case state.EventCreate, state.EventUpdate:
		if job.ContentHash == "" {
			err = p.executeCreateDirectory(ctx, job)
		} else {
			err = p.executeCreateOrUpdateFile(ctx, job)
		}
	case state.EventDelete:
		err = p.executeDelete(ctx, job)
	case state.EventRename:
		err = p.executeRename(ctx, job)
	case state.EventMove:
		err = p.executeMove(ctx, job)
	case state.EventDeleteAndCreate:
		err = p.executeDeleteAndCreate(ctx, job)
	default:
		err = fmt.Errorf("%w: unrecognized event type %q", backoff.ErrPermanent, job.EventType)
	}

	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}

	p.failures.recordSuccess(job.LocalPath)
}

func (p *Processor) executeCreateOrUpdateFile(ctx context.Context, job *state.Job) error {
	info, err := os.Stat(job.LocalPath)
	if err != nil {
		return err
	}

	changeToken := watcher.ChangeTokenOf(info.ModTime().UnixMilli(), info.Size())

	parentUID, err := p.resolveParent(ctx, job.RemotePath)
	if err != nil {
		return err
	}

	name := path.Base(job.RemotePath)

	existing, err := p.findChild(ctx, parentUID, name)
	if err != nil {
		return err
	}

	var uid string

	if existing != nil && existing.Revision != nil && contenthash.Equal(existing.Revision.SHA1, job.ContentHash) {
		uid = existing.UID
	} else {
		uid, err = p.uploadFile(ctx, job, existing, parentUID, name, info)
		if err != nil {
			return err
		}
	}

	return p.completeUpsert(ctx, job, uid, parentUID, false, job.ContentHash, changeToken)
}

func (p *Processor) uploadFile(
	ctx context.Context, job *state.Job, existing *drive.Node, parentUID, name string, info os.FileInfo,
) (string, error) {
	f, err := os.Open(job.LocalPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	meta := drive.UploadMeta{Size: info.Size(), ModTime: info.ModTime().UnixMilli(), SHA1: job.ContentHash}

	cctx, cancel := p.binaryCtx(ctx)
	defer cancel()

	if existing != nil {
		return p.client.UploadRevision(cctx, existing.UID, meta, f)
	}

	return p.client.UploadFile(cctx, parentUID, name, meta, f)
}

func (p *Processor) executeCreateDirectory(ctx context.Context, job *state.Job) error {
	info, err := os.Stat(job.LocalPath)
	if err != nil {
		return err
	}

	changeToken := watcher.ChangeTokenOf(info.ModTime().UnixMilli(), info.Size())

	parentUID, err := p.resolveParent(ctx, job.RemotePath)
	if err != nil {
		return err
	}

	name := path.Base(job.RemotePath)

	existing, err := p.findChild(ctx, parentUID, name)
	if err != nil {
		return err
	}

	uid := ""
	if existing != nil {
		uid = existing.UID
	} else {
		cctx, cancel := p.jsonCtx(ctx)
		uid, err = p.client.CreateFolder(cctx, parentUID, name, info.ModTime().UnixMilli())
		cancel()

		if err != nil {
			return err
		}
	}

	return p.completeUpsert(ctx, job, uid, parentUID, true, "", changeToken)
}

func (p *Processor) executeDelete(ctx context.Context, job *state.Job) error {
	mapping, err := p.getMapping(ctx, job.LocalPath)
	if errors.Is(err, state.ErrNotFound) {
		return p.store.CompleteDelete(ctx, job.ID, job.LocalPath, false)
	}

	if err != nil {
		return err
	}

	if err := p.trashAndDelete(ctx, mapping.NodeUID); err != nil {
		return err
	}

	p.mappingCache.Remove(job.LocalPath)

	return p.store.CompleteDelete(ctx, job.ID, job.LocalPath, mapping.IsDirectory)
}

func (p *Processor) executeRename(ctx context.Context, job *state.Job) error {
	mapping, err := p.getMapping(ctx, job.OldLocalPath)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("%w: no node mapping for rename source %s", backoff.ErrClientState, job.OldLocalPath)
	}

	if err != nil {
		return err
	}

	newName := path.Base(job.RemotePath)

	cctx, cancel := p.jsonCtx(ctx)
	err = p.client.Relocate(cctx, mapping.NodeUID, drive.RelocateOptions{NewName: newName})
	cancel()

	if err != nil {
		return err
	}

	return p.finishRelocate(ctx, job, mapping, mapping.ParentNodeUID)
}

func (p *Processor) executeMove(ctx context.Context, job *state.Job) error {
	mapping, err := p.getMapping(ctx, job.OldLocalPath)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("%w: no node mapping for move source %s", backoff.ErrClientState, job.OldLocalPath)
	}

	if err != nil {
		return err
	}

	newParentUID, err := p.resolveParent(ctx, job.RemotePath)
	if err != nil {
		return err
	}

	opts := drive.RelocateOptions{NewParentUID: newParentUID}
	if path.Base(job.RemotePath) != path.Base(job.OldRemotePath) {
		opts.NewName = path.Base(job.RemotePath)
	}

	cctx, cancel := p.jsonCtx(ctx)
	err = p.client.Relocate(cctx, mapping.NodeUID, opts)
	cancel()

	if err != nil {
		return err
	}

	return p.finishRelocate(ctx, job, mapping, newParentUID)
}

// finishRelocate rewrites the path prefix for the relocated entry (and, for a
// directory, its entire subtree) in its own transaction, then marks the job
// synced with the corrected mapping in the "complete a job" transaction —
// the two transactional groupings section 4.1 keeps separate.
func (p *Processor) finishRelocate(ctx context.Context, job *state.Job, mapping state.NodeMapping, newParentUID string) error {
	if err := p.store.RenameDirectoryPrefix(ctx, job.OldLocalPath, job.LocalPath); err != nil {
		return err
	}

	p.mappingCache.Remove(job.OldLocalPath)

	newMapping := state.NodeMapping{
		LocalPath: job.LocalPath, NodeUID: mapping.NodeUID,
		ParentNodeUID: newParentUID, IsDirectory: mapping.IsDirectory,
	}

	if err := p.store.CompleteJob(ctx, job.ID, job.LocalPath, state.CompleteOutcome{Mapping: &newMapping}); err != nil {
		return err
	}

	p.mappingCache.Add(job.LocalPath, newMapping)

	return nil
}

// executeDeleteAndCreate removes the prior node at LocalPath (if one is
// still mapped) and then runs the ordinary create algorithm for the same
// path — a DELETE_AND_CREATE job always shares one LocalPath between its two
// phases, since it arises from a DELETE and a CREATE coalescing on the same
// enqueue key (section 4.3).
func (p *Processor) executeDeleteAndCreate(ctx context.Context, job *state.Job) error {
	mapping, err := p.getMapping(ctx, job.LocalPath)

	switch {
	case errors.Is(err, state.ErrNotFound):
		// Nothing remote to remove; proceed straight to the create phase.
	case err != nil:
		return err
	default:
		if err := p.trashAndDelete(ctx, mapping.NodeUID); err != nil {
			return err
		}

		if err := p.store.DeleteEntityRows(ctx, job.LocalPath, mapping.IsDirectory); err != nil {
			return err
		}

		p.mappingCache.Remove(job.LocalPath)
	}

	createJob := *job
	createJob.EventType = state.EventCreate

	if createJob.ContentHash == "" {
		return p.executeCreateDirectory(ctx, &createJob)
	}

	return p.executeCreateOrUpdateFile(ctx, &createJob)
}

func (p *Processor) trashAndDelete(ctx context.Context, uid string) error {
	cctx, cancel := p.jsonCtx(ctx)
	defer cancel()

	for res := range p.client.Trash(cctx, []string{uid}) {
		if res.Err != nil && !errors.Is(res.Err, drive.ErrAlreadyTrashed) {
			return res.Err
		}
	}

	for res := range p.client.Delete(cctx, []string{uid}) {
		if res.Err != nil && !errors.Is(res.Err, drive.ErrNotFound) {
			return res.Err
		}
	}

	return nil
}

func (p *Processor) completeUpsert(
	ctx context.Context, job *state.Job, uid, parentUID string, isDir bool, hash, changeToken string,
) error {
	mapping := state.NodeMapping{LocalPath: job.LocalPath, NodeUID: uid, ParentNodeUID: parentUID, IsDirectory: isDir}

	if err := p.store.CompleteJob(ctx, job.ID, job.LocalPath, state.CompleteOutcome{
		Mapping: &mapping, ContentHash: hash, ChangeToken: changeToken,
	}); err != nil {
		return err
	}

	p.mappingCache.Add(job.LocalPath, mapping)

	return nil
}

// getMapping returns the NodeMapping for localPath, consulting the LRU cache
// before falling back to the store. The cache is purely a read-side
// optimization: every write path below invalidates or refreshes it, and
// GetNodeMapping remains the source of truth.
func (p *Processor) getMapping(ctx context.Context, localPath string) (state.NodeMapping, error) {
	if m, ok := p.mappingCache.Get(localPath); ok {
		return m, nil
	}

	m, err := p.store.GetNodeMapping(ctx, localPath)
	if err != nil {
		return state.NodeMapping{}, err
	}

	p.mappingCache.Add(localPath, *m)

	return *m, nil
}

// getRootUID resolves and caches the sync root's top-level drive node, since
// it never changes for the lifetime of a Processor.
func (p *Processor) getRootUID(ctx context.Context) (string, error) {
	p.rootOnce.Do(func() {
		cctx, cancel := p.jsonCtx(ctx)
		defer cancel()

		p.rootUID, p.rootErr = p.client.GetRootFolder(cctx)
	})

	return p.rootUID, p.rootErr
}

// resolveParent walks remotePath's ancestor folders from the drive root,
// reusing existing folders where found and creating the rest in order, and
// returns the uid of remotePath's immediate parent.
func (p *Processor) resolveParent(ctx context.Context, remotePath string) (string, error) {
	segments := splitRemotePath(remotePath)

	uid, err := p.getRootUID(ctx)
	if err != nil {
		return "", err
	}

	if len(segments) <= 1 {
		return uid, nil
	}

	for _, seg := range segments[:len(segments)-1] {
		child, err := p.findChild(ctx, uid, seg)
		if err != nil {
			return "", err
		}

		if child != nil {
			uid = child.UID
			continue
		}

		cctx, cancel := p.jsonCtx(ctx)
		newUID, err := p.client.CreateFolder(cctx, uid, seg, time.Now().UnixMilli())
		cancel()

		if err != nil {
			return "", err
		}

		uid = newUID
	}

	return uid, nil
}

// findChild searches parentUID's children for name. The sequence is always
// fully drained, even after a match, per the DriveClient contract.
func (p *Processor) findChild(ctx context.Context, parentUID, name string) (*drive.Node, error) {
	cctx, cancel := p.jsonCtx(ctx)
	defer cancel()

	var found *drive.Node

	for node, err := range p.client.IterateChildren(cctx, parentUID) {
		if err != nil {
			return nil, err
		}

		if node.Name == name {
			n := node
			found = &n
		}
	}

	return found, nil
}

func splitRemotePath(remotePath string) []string {
	trimmed := strings.Trim(remotePath, "/")
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "/")
}

func (p *Processor) jsonCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.JSONTimeout)
}

func (p *Processor) binaryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.BinaryTimeout)
}

// handleFailure classifies execErr and applies the retry/convert/block
// decision from the job queue's error table (section 4.4).
func (p *Processor) handleFailure(ctx context.Context, job *state.Job, execErr error) {
	class := classifyExecErr(execErr)

	if p.failures.shouldSuppressLog(job.LocalPath) {
		p.logger.Debug("processor: job failed (suppressed, see prior suppression warning)",
			"job_id", job.ID, "local_path", job.LocalPath, "event_type", job.EventType,
			"class", class, "n_retries", job.NRetries, "error", execErr)
	} else {
		p.logger.Warn("processor: job failed",
			"job_id", job.ID, "local_path", job.LocalPath, "event_type", job.EventType,
			"class", class, "n_retries", job.NRetries, "error", execErr)
	}

	p.failures.recordFailure(job.LocalPath, execErr.Error())

	if job.EventType != state.EventDeleteAndCreate && backoff.ShouldConvertToDeleteAndCreate(class, job.NRetries) {
		if err := p.store.ConvertToDeleteAndCreate(ctx, job.ID, execErr.Error(), time.Now().Unix()); err != nil {
			p.logger.Error("processor: convert to delete_and_create failed", "job_id", job.ID, "error", err)
		}

		return
	}

	if backoff.ShouldBlock(class, job.NRetries) {
		if err := p.store.FailJob(ctx, job.ID, execErr.Error(), 0, true); err != nil {
			p.logger.Error("processor: mark blocked failed", "job_id", job.ID, "error", err)
		}

		return
	}

	hint := time.Duration(drive.RetryAfterSeconds(execErr)) * time.Second
	retryAt := time.Now().Add(backoff.NextDelay(class, job.NRetries, hint)).Unix()

	if err := p.store.FailJob(ctx, job.ID, execErr.Error(), retryAt, false); err != nil {
		p.logger.Error("processor: schedule retry failed", "job_id", job.ID, "error", err)
	}
}

func classifyExecErr(err error) backoff.Class {
	switch {
	case errors.Is(err, backoff.ErrClientState):
		return backoff.ClassClientState
	case errors.Is(err, backoff.ErrPermanent):
		return backoff.ClassPermanent
	default:
		return drive.Classify(err)
	}
}
