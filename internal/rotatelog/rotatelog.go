// Package rotatelog implements the fixed-size rotating log writer the
// external interfaces contract specifies: one active file capped at a byte
// limit, one retained predecessor, no further generations. No example repo in
// the retrieval pack imports a rotation library (lumberjack-style rotation is
// absent throughout), so this stays a stdlib io.Writer rather than reaching
// for a dependency nothing in the corpus exercises.
package rotatelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxBytes is the per-file size cap from the on-disk layout contract.
const DefaultMaxBytes = 1 << 20 // 1 MiB

// Writer is an io.Writer that rotates path to path+".1" once the active file
// reaches MaxBytes, keeping exactly one retained predecessor.
type Writer struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	f        *os.File
	size     int64
}

// Open creates (or appends to) the rotating log file at path.
func Open(path string, maxBytes int64) (*Writer, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rotatelog: creating log dir: %w", err)
	}

	w := &Writer{path: path, maxBytes: maxBytes}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Writer) openCurrent() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("rotatelog: opening %s: %w", w.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("rotatelog: stat %s: %w", w.path, err)
	}

	w.f = f
	w.size = info.Size()

	return nil
}

// Write implements io.Writer, rotating before a write that would exceed
// maxBytes.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxBytes && w.size > 0 {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)

	return n, err
}

func (w *Writer) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("rotatelog: closing %s before rotation: %w", w.path, err)
	}

	predecessor := w.path + ".1"
	if err := os.Rename(w.path, predecessor); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotatelog: rotating %s: %w", w.path, err)
	}

	return w.openCurrent()
}

// Close closes the active log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.f.Close()
}
