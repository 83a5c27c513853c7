package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EventType is the kind of change a SyncJob represents.
type EventType string

const (
	EventCreate          EventType = "CREATE"
	EventUpdate          EventType = "UPDATE"
	EventDelete          EventType = "DELETE"
	EventRename          EventType = "RENAME"
	EventMove            EventType = "MOVE"
	EventDeleteAndCreate EventType = "DELETE_AND_CREATE"
)

// JobState is the lifecycle stage of a SyncJob row.
type JobState string

const (
	JobPending    JobState = "PENDING"
	JobProcessing JobState = "PROCESSING"
	JobSynced     JobState = "SYNCED"
	JobBlocked    JobState = "BLOCKED"
)

// Job is a durable row in the sync job queue (C4).
type Job struct {
	ID            int64
	EventType     EventType
	LocalPath     string
	RemotePath    string
	OldLocalPath  string
	OldRemotePath string
	ContentHash   string
	State         JobState
	NRetries      int
	RetryAt       int64
	LastError     string
	CreatedAt     int64
}

// Enqueue inserts job as PENDING, applying the coalescing rule against any
// existing non-terminal row for the same local path (section 4.3). Returns
// the id of the row that now represents the path (either the new row, or
// the pre-existing one that absorbed it).
func (s *Store) Enqueue(ctx context.Context, job Job) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("state: enqueue begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	id, err := enqueueTx(ctx, tx, job)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("state: enqueue commit: %w", err)
	}

	return id, nil
}

func enqueueTx(ctx context.Context, tx *sql.Tx, job Job) (int64, error) {
	existing, err := findActiveJobTx(ctx, tx, job.LocalPath)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	if err == nil {
		coalesced := coalesce(*existing, job)

		if _, updErr := tx.ExecContext(ctx, `
			UPDATE sync_jobs SET
				event_type = ?, remote_path = ?, old_local_path = ?,
				old_remote_path = ?, content_hash = ?
			WHERE id = ?`,
			coalesced.EventType, coalesced.RemotePath, nullString(coalesced.OldLocalPath),
			nullString(coalesced.OldRemotePath), nullString(coalesced.ContentHash), existing.ID,
		); updErr != nil {
			return 0, fmt.Errorf("state: coalesce job %d: %w", existing.ID, updErr)
		}

		return existing.ID, nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_jobs (
			event_type, local_path, remote_path, old_local_path, old_remote_path,
			content_hash, state, n_retries, retry_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, unixepoch())`,
		job.EventType, job.LocalPath, job.RemotePath, nullString(job.OldLocalPath),
		nullString(job.OldRemotePath), nullString(job.ContentHash), JobPending, job.RetryAt,
	)
	if err != nil {
		return 0, fmt.Errorf("state: insert job %s: %w", job.LocalPath, err)
	}

	return res.LastInsertId()
}

// coalesce implements the merge rules from section 4.3: CREATE+UPDATE→CREATE,
// UPDATE+UPDATE→UPDATE (latest hash wins), ANY+DELETE→DELETE,
// RENAME+UPDATE→RENAME (content hash carried forward), DELETE+CREATE→DELETE_AND_CREATE.
func coalesce(existing, incoming Job) Job {
	switch {
	case incoming.EventType == EventDelete:
		existing.EventType = EventDelete
		existing.RemotePath = incoming.RemotePath
		existing.ContentHash = ""

		return existing

	case existing.EventType == EventDelete && incoming.EventType == EventCreate:
		existing.EventType = EventDeleteAndCreate
		existing.LocalPath = incoming.LocalPath
		existing.RemotePath = incoming.RemotePath
		existing.ContentHash = incoming.ContentHash

		return existing

	case existing.EventType == EventCreate && incoming.EventType == EventUpdate:
		existing.ContentHash = incoming.ContentHash
		return existing

	case existing.EventType == EventUpdate && incoming.EventType == EventUpdate:
		existing.ContentHash = incoming.ContentHash
		return existing

	case (existing.EventType == EventRename || existing.EventType == EventMove) &&
		incoming.EventType == EventUpdate:
		existing.ContentHash = incoming.ContentHash
		return existing

	default:
		return incoming
	}
}

func findActiveJobTx(ctx context.Context, tx *sql.Tx, localPath string) (*Job, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, event_type, local_path, remote_path, old_local_path, old_remote_path,
			content_hash, state, n_retries, retry_at, last_error, created_at
		FROM sync_jobs
		WHERE local_path = ? AND state IN ('PENDING', 'PROCESSING')`, localPath)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return job, err
}

// ClaimJob atomically selects the oldest PENDING job whose retry_at has
// elapsed, transitions it to PROCESSING, and returns it. Returns ErrNotFound
// if no job is ready.
func (s *Store) ClaimJob(ctx context.Context, now int64) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("state: claim begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx, `
		SELECT id, event_type, local_path, remote_path, old_local_path, old_remote_path,
			content_hash, state, n_retries, retry_at, last_error, created_at
		FROM sync_jobs
		WHERE state = 'PENDING' AND retry_at <= ?
		ORDER BY id ASC LIMIT 1`, now)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("state: claim scan: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sync_jobs SET state = 'PROCESSING' WHERE id = ?`, job.ID); err != nil {
		return nil, fmt.Errorf("state: claim update %d: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("state: claim commit: %w", err)
	}

	job.State = JobProcessing

	return job, nil
}

// CompleteOutcome is the combined write of the "complete a job" transaction:
// mark_synced plus the NodeMapping/FileHash/FileState rows it produced.
type CompleteOutcome struct {
	Mapping     *NodeMapping
	ContentHash string
	ChangeToken string
}

// CompleteJob performs the "complete a job" transaction: state=SYNCED plus
// the NodeMapping/FileHash/FileState upserts, all in one transaction
// (section 4.1). A nil Mapping or an empty ContentHash/ChangeToken in outcome
// means "leave that row untouched"; use CompleteDelete for the DELETE event
// kind instead.
func (s *Store) CompleteJob(ctx context.Context, id int64, localPath string, outcome CompleteOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: complete begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE sync_jobs SET state = 'SYNCED' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("state: complete mark_synced %d: %w", id, err)
	}

	if outcome.Mapping != nil {
		if err := putNodeMappingTx(ctx, tx, *outcome.Mapping); err != nil {
			return err
		}
	}

	if outcome.ContentHash != "" {
		if err := putFileHashTx(ctx, tx, localPath, outcome.ContentHash); err != nil {
			return err
		}
	}

	if outcome.ChangeToken != "" {
		if err := putFileStateTx(ctx, tx, localPath, outcome.ChangeToken); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: complete commit %d: %w", id, err)
	}

	return nil
}

// CompleteDelete performs the "complete a job" transaction for a successful
// DELETE: mark_synced plus removal of the three rows for localPath, and,
// when deleting a directory, every descendant row under its prefix.
func (s *Store) CompleteDelete(ctx context.Context, id int64, localPath string, isDirectory bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: complete-delete begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE sync_jobs SET state = 'SYNCED' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("state: complete-delete mark_synced %d: %w", id, err)
	}

	if err := deleteFileStateTx(ctx, tx, localPath); err != nil {
		return err
	}

	if err := deleteFileHashTx(ctx, tx, localPath); err != nil {
		return err
	}

	if err := deleteNodeMappingTx(ctx, tx, localPath); err != nil {
		return err
	}

	if isDirectory {
		prefix := localPath + "/"
		if err := deleteSubtreeTx(ctx, tx, prefix); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: complete-delete commit %d: %w", id, err)
	}

	return nil
}

func deleteSubtreeTx(ctx context.Context, tx *sql.Tx, prefix string) error {
	like := prefix + "%"

	for _, table := range []string{"file_state", "file_hashes", "node_mapping"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE local_path LIKE ? ESCAPE '\'`, table), like,
		); err != nil {
			return fmt.Errorf("state: delete subtree from %s: %w", table, err)
		}
	}

	return nil
}

// FailJob records the outcome of a failed task: either a retry (PENDING with
// bumped n_retries and a new retry_at) or a terminal BLOCKED state.
func (s *Store) FailJob(ctx context.Context, id int64, errMsg string, retryAt int64, blocked bool) error {
	var err error

	if blocked {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sync_jobs SET state = 'BLOCKED', last_error = ? WHERE id = ?`,
			errMsg, id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sync_jobs SET state = 'PENDING', last_error = ?, retry_at = ?,
				n_retries = n_retries + 1
			WHERE id = ?`,
			errMsg, retryAt, id)
	}

	if err != nil {
		return fmt.Errorf("state: fail job %d: %w", id, err)
	}

	return nil
}

// ConvertToDeleteAndCreate changes a job's event type to DELETE_AND_CREATE and
// schedules it for retry, used when a REUPLOAD_NEEDED failure has persisted
// past the retry threshold (section 4.4: n>=2 switches strategy rather than
// blocking the job).
func (s *Store) ConvertToDeleteAndCreate(ctx context.Context, id int64, errMsg string, retryAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET event_type = 'DELETE_AND_CREATE', state = 'PENDING',
			last_error = ?, retry_at = ?, n_retries = n_retries + 1
		WHERE id = ?`, errMsg, retryAt, id)
	if err != nil {
		return fmt.Errorf("state: convert-to-delete-and-create %d: %w", id, err)
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                           Job
		oldLocalPath, oldRemotePath sql.NullString
		contentHash, lastError      sql.NullString
	)

	err := row.Scan(
		&j.ID, &j.EventType, &j.LocalPath, &j.RemotePath, &oldLocalPath, &oldRemotePath,
		&contentHash, &j.State, &j.NRetries, &j.RetryAt, &lastError, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.OldLocalPath = oldLocalPath.String
	j.OldRemotePath = oldRemotePath.String
	j.ContentHash = contentHash.String
	j.LastError = lastError.String

	return &j, nil
}
