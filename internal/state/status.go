package state

import (
	"context"
	"fmt"
)

// CountByState returns the number of sync_jobs rows in each state, used by
// the read-only status dashboard (out of scope for this module beyond this
// query surface).
func (s *Store) CountByState(ctx context.Context) (map[JobState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM sync_jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("state: count by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobState]int)

	for rows.Next() {
		var (
			state JobState
			n     int
		)

		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("state: count by state scan: %w", err)
		}

		counts[state] = n
	}

	return counts, rows.Err()
}

// ListBlocked returns every BLOCKED job, most recently created first.
func (s *Store) ListBlocked(ctx context.Context) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT id, event_type, local_path, remote_path, old_local_path, old_remote_path,
			content_hash, state, n_retries, retry_at, last_error, created_at
		FROM sync_jobs WHERE state = 'BLOCKED' ORDER BY created_at DESC`)
}

// RecentSynced returns up to n SYNCED jobs, highest id (most recently
// enqueued) first.
func (s *Store) RecentSynced(ctx context.Context, n int) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT id, event_type, local_path, remote_path, old_local_path, old_remote_path,
			content_hash, state, n_retries, retry_at, last_error, created_at
		FROM sync_jobs WHERE state = 'SYNCED' ORDER BY id DESC LIMIT ?`, n)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("state: scan job: %w", err)
		}

		jobs = append(jobs, *j)
	}

	return jobs, rows.Err()
}
