// Package state implements C1, the durable state store: per-path change
// tokens, content hashes, remote-node mappings, the job queue, and the
// signal queue, all held in a single embedded SQLite database.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"
)

// walJournalSizeLimit bounds the WAL file before SQLite truncates it back
// down after a checkpoint.
const walJournalSizeLimit = 67108864 // 64 MiB

// Store is the embedded SQLite-backed implementation of C1. A single writer
// connection is enforced (SetMaxOpenConns(1)) so that every transactional
// grouping required by the design runs with no interleaving from other
// goroutines; readers and the single writer share the same connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at dbPath, applies pragmas, runs
// migrations, and returns a ready Store. Use ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("state: opening database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}

	// SQLite's single-writer model plus our own "claim a job" style
	// transactions are only safe with a single physical connection; letting
	// database/sql hand out a second one defeats the PRAGMA-level locking.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("state: database ready", "path", dbPath)

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// setPragmas configures SQLite for WAL-mode durability. synchronous=FULL
// trades throughput for a guarantee that a committed transaction survives a
// power loss, which the state store's crash-recovery invariant depends on.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("state: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("state: pragma set", "pragma", p.desc)
	}

	return nil
}

// SnapshotConfig persists a diagnostic copy of the active configuration,
// keyed by key, for operators inspecting the database directly.
func (s *Store) SnapshotConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_snapshot (key, value, updated_at)
		VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("state: snapshot config %s: %w", key, err)
	}

	return nil
}
