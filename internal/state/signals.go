package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Signal tags consumed by the engine's control loop.
const (
	SignalStop   = "stop"
	SignalPause  = "pause"
	SignalResume = "resume"
	SignalReload = "reload"
)

// PushSignal appends tag to the FIFO signal queue.
func (s *Store) PushSignal(ctx context.Context, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (tag, created_at) VALUES (?, unixepoch())`, tag)
	if err != nil {
		return fmt.Errorf("state: push signal %s: %w", tag, err)
	}

	return nil
}

// PopSignal atomically removes and returns the oldest queued signal. Returns
// ErrNotFound if the queue is empty, giving at-most-one-consumer semantics
// per row under concurrent pollers.
func (s *Store) PopSignal(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("state: pop signal begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		id  int64
		tag string
	)

	err = tx.QueryRowContext(ctx,
		`SELECT id, tag FROM signals ORDER BY id ASC LIMIT 1`).Scan(&id, &tag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("state: pop signal scan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM signals WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("state: pop signal delete %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("state: pop signal commit: %w", err)
	}

	return tag, nil
}

// ClearSignals empties the signal queue, used by `reset --signals-only`.
func (s *Store) ClearSignals(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM signals`); err != nil {
		return fmt.Errorf("state: clear signals: %w", err)
	}

	return nil
}
