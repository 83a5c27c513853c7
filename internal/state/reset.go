package state

import (
	"context"
	"fmt"
)

// ResetRetryTimers clears every BLOCKED job back to PENDING with retry_at=now
// and zeroed nRetries, and sets retry_at=now on any PENDING job already
// scheduled for the future. Used by `reset --retries-only`.
func (s *Store) ResetRetryTimers(ctx context.Context, now int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: reset retries begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs SET state = 'PENDING', n_retries = 0, retry_at = ?, last_error = NULL
		WHERE state = 'BLOCKED'`, now,
	); err != nil {
		return fmt.Errorf("state: reset retries unblock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs SET retry_at = ? WHERE state = 'PENDING' AND retry_at > ?`, now, now,
	); err != nil {
		return fmt.Errorf("state: reset retries clear delays: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: reset retries commit: %w", err)
	}

	return nil
}

// ResetAll clears the entire state store — every job, signal, and cached
// FileState/FileHash/NodeMapping row — in one transaction. Used by a bare
// `reset`, forcing the next run to treat every sync root as unseen.
func (s *Store) ResetAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: reset all begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"sync_jobs", "signals", "file_state", "file_hashes", "node_mapping", "config_snapshot"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("state: reset all %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: reset all commit: %w", err)
	}

	return nil
}
