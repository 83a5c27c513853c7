package state

import (
	"context"
	"fmt"
)

// RenameDirectoryPrefix rewrites every FileState/FileHash/NodeMapping row
// whose local_path begins with oldDir+"/" by substituting newDir+"/", all
// in a single transaction (section 4.1). It also rewrites the row for
// oldDir itself, if one exists, since the directory's own entry moves too.
func (s *Store) RenameDirectoryPrefix(ctx context.Context, oldDir, newDir string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: rename-prefix begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	oldPrefix := oldDir + "/"

	for _, table := range []string{"file_state", "file_hashes", "node_mapping"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET local_path = ? || substr(local_path, ?) WHERE local_path = ?`, table),
			newDir, len(oldDir)+1, oldDir,
		); err != nil {
			return fmt.Errorf("state: rename-prefix %s self: %w", table, err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET local_path = ? || substr(local_path, ?)
			WHERE local_path LIKE ? ESCAPE '\'`, table),
			newDir+"/", len(oldPrefix)+1, oldPrefix+"%",
		); err != nil {
			return fmt.Errorf("state: rename-prefix %s subtree: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: rename-prefix commit: %w", err)
	}

	return nil
}

// RecoverStartup resets every PROCESSING job back to PENDING with
// retry_at=now, per the startup-recovery transaction in section 4.1. Any
// task interrupted by a process kill is thus re-claimed rather than lost.
func (s *Store) RecoverStartup(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET state = 'PENDING', retry_at = ? WHERE state = 'PROCESSING'`, now)
	if err != nil {
		return 0, fmt.Errorf("state: recover startup: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("state: recover startup rows affected: %w", err)
	}

	s.logger.Info("state: startup recovery requeued jobs", "count", n)

	return n, nil
}
