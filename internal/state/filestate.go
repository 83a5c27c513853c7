package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("state: not found")

// NodeMapping records the remote object a local path currently maps to.
type NodeMapping struct {
	LocalPath     string
	NodeUID       string
	ParentNodeUID string
	IsDirectory   bool
}

// GetFileState returns the change token last recorded for localPath.
func (s *Store) GetFileState(ctx context.Context, localPath string) (string, error) {
	var token string

	err := s.db.QueryRowContext(ctx,
		`SELECT change_token FROM file_state WHERE local_path = ?`, localPath,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("state: get file_state %s: %w", localPath, err)
	}

	return token, nil
}

// PutFileState upserts the change token for localPath.
func (s *Store) PutFileState(ctx context.Context, localPath, changeToken string) error {
	return putFileStateTx(ctx, s.db, localPath, changeToken)
}

func putFileStateTx(ctx context.Context, q queryer, localPath, changeToken string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO file_state (local_path, change_token, updated_at)
		VALUES (?, ?, unixepoch())
		ON CONFLICT(local_path) DO UPDATE SET
			change_token = excluded.change_token,
			updated_at   = excluded.updated_at`,
		localPath, changeToken)
	if err != nil {
		return fmt.Errorf("state: put file_state %s: %w", localPath, err)
	}

	return nil
}

// ListFileStatePaths returns every FileState local_path at or under prefix,
// used by the scan-diff pass to find entries deleted since the last scan.
func (s *Store) ListFileStatePaths(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT local_path FROM file_state WHERE local_path = ? OR local_path LIKE ? ESCAPE '\'`,
		prefix, prefix+"/%")
	if err != nil {
		return nil, fmt.Errorf("state: list file_state under %s: %w", prefix, err)
	}
	defer rows.Close()

	var paths []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("state: list file_state scan: %w", err)
		}

		paths = append(paths, p)
	}

	return paths, rows.Err()
}

// DeleteFileState removes the FileState row for localPath, if any.
func (s *Store) DeleteFileState(ctx context.Context, localPath string) error {
	return deleteFileStateTx(ctx, s.db, localPath)
}

func deleteFileStateTx(ctx context.Context, q queryer, localPath string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM file_state WHERE local_path = ?`, localPath)
	if err != nil {
		return fmt.Errorf("state: delete file_state %s: %w", localPath, err)
	}

	return nil
}

// GetFileHash returns the content hash last recorded for localPath.
func (s *Store) GetFileHash(ctx context.Context, localPath string) (string, error) {
	var hash string

	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM file_hashes WHERE local_path = ?`, localPath,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("state: get file_hashes %s: %w", localPath, err)
	}

	return hash, nil
}

func putFileHashTx(ctx context.Context, q queryer, localPath, contentHash string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO file_hashes (local_path, content_hash, updated_at)
		VALUES (?, ?, unixepoch())
		ON CONFLICT(local_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			updated_at   = excluded.updated_at`,
		localPath, contentHash)
	if err != nil {
		return fmt.Errorf("state: put file_hashes %s: %w", localPath, err)
	}

	return nil
}

func deleteFileHashTx(ctx context.Context, q queryer, localPath string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM file_hashes WHERE local_path = ?`, localPath)
	if err != nil {
		return fmt.Errorf("state: delete file_hashes %s: %w", localPath, err)
	}

	return nil
}

// GetNodeMapping returns the remote mapping for localPath.
func (s *Store) GetNodeMapping(ctx context.Context, localPath string) (*NodeMapping, error) {
	return getNodeMappingTx(ctx, s.db, localPath)
}

func getNodeMappingTx(ctx context.Context, q queryer, localPath string) (*NodeMapping, error) {
	var (
		m             NodeMapping
		parentNodeUID sql.NullString
		isDirectory   int
	)

	err := q.QueryRowContext(ctx, `
		SELECT local_path, node_uid, parent_node_uid, is_directory
		FROM node_mapping WHERE local_path = ?`, localPath,
	).Scan(&m.LocalPath, &m.NodeUID, &parentNodeUID, &isDirectory)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("state: get node_mapping %s: %w", localPath, err)
	}

	m.ParentNodeUID = parentNodeUID.String
	m.IsDirectory = isDirectory != 0

	return &m, nil
}

func putNodeMappingTx(ctx context.Context, q queryer, m NodeMapping) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO node_mapping (local_path, node_uid, parent_node_uid, is_directory, updated_at)
		VALUES (?, ?, ?, ?, unixepoch())
		ON CONFLICT(local_path) DO UPDATE SET
			node_uid        = excluded.node_uid,
			parent_node_uid = excluded.parent_node_uid,
			is_directory    = excluded.is_directory,
			updated_at      = excluded.updated_at`,
		m.LocalPath, m.NodeUID, nullString(m.ParentNodeUID), boolToInt(m.IsDirectory))
	if err != nil {
		return fmt.Errorf("state: put node_mapping %s: %w", m.LocalPath, err)
	}

	return nil
}

func deleteNodeMappingTx(ctx context.Context, q queryer, localPath string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM node_mapping WHERE local_path = ?`, localPath)
	if err != nil {
		return fmt.Errorf("state: delete node_mapping %s: %w", localPath, err)
	}

	return nil
}

// DeleteEntityRows removes the FileState/FileHash/NodeMapping rows for
// localPath (and, if isDirectory, every descendant under its prefix) without
// touching any sync_jobs row. Used by the DELETE_AND_CREATE algorithm, whose
// delete phase and create phase are deliberately separate transactions that
// both complete before the job itself is marked synced (section 4.5).
func (s *Store) DeleteEntityRows(ctx context.Context, localPath string, isDirectory bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: delete-entity-rows begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

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
		if err := deleteSubtreeTx(ctx, tx, localPath+"/"); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: delete-entity-rows commit: %w", err)
	}

	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// queryer is satisfied by both *sql.DB and *sql.Tx, letting the row-level
// helpers above run either standalone or inside one of the transactional
// groupings in job.go / recovery.go.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}
