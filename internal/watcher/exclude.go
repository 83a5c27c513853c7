package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// alwaysExcludedSuffixes lists extensions unsafe to sync regardless of
// configuration: partial downloads, editor temporaries, and the state
// store's own files (which would corrupt if the sync root contained them).
var alwaysExcludedSuffixes = []string{
	".partial", ".tmp", ".swp", ".crdownload",
	"state.db", "state.db-wal", "state.db-shm",
}

// ignoreMarkerName is the per-directory opt-out file, analogous to
// .gitignore: its presence causes that directory's subtree to be skipped
// entirely by both the scan-diff pass and live watch setup.
const ignoreMarkerName = ".pdsignore"

// maxNameLength is Proton Drive's per-component name length cap, in bytes.
const maxNameLength = 255

// Excluder decides whether a relative path should be skipped, combining the
// always-excluded suffixes with the user-configured glob patterns.
type Excluder struct {
	patterns []string
}

// NewExcluder compiles patterns (doublestar glob syntax) for repeated
// matching against scan and live-watch paths.
func NewExcluder(patterns []string) *Excluder {
	return &Excluder{patterns: patterns}
}

// Excluded reports whether relPath (slash-separated, relative to the sync
// root) should be skipped.
func (e *Excluder) Excluded(relPath, name string) bool {
	if isAlwaysExcluded(name) {
		return true
	}

	if invalid, _ := InvalidName(name); invalid {
		return true
	}

	for _, pattern := range e.patterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}

	return false
}

// InvalidName reports whether name violates Proton Drive's naming
// constraints for a single path component, along with a human-readable
// reason. Proton Drive is considerably more permissive than OneDrive about
// reserved device names and special characters, but still rejects a
// trailing dot or space, an embedded path separator, and names over
// maxNameLength bytes.
func InvalidName(name string) (bool, string) {
	if name == "" {
		return true, "empty name"
	}

	if len(name) > maxNameLength {
		return true, fmt.Sprintf("name exceeds %d bytes", maxNameLength)
	}

	if strings.ContainsRune(name, '/') {
		return true, "name contains a path separator"
	}

	if strings.HasSuffix(name, ".") {
		return true, "name ends with a dot"
	}

	if strings.HasSuffix(name, " ") {
		return true, "name ends with a space"
	}

	return false, ""
}

// MarkerExcluded reports whether dirPath (an absolute filesystem directory
// path) contains the ignore marker file, meaning its entire subtree should
// be skipped by both the scan-diff pass and live-watch directory
// enumeration.
func (e *Excluder) MarkerExcluded(dirPath string) bool {
	_, err := os.Stat(filepath.Join(dirPath, ignoreMarkerName))
	return err == nil
}

func isAlwaysExcluded(name string) bool {
	lower := strings.ToLower(name)

	for _, suffix := range alwaysExcludedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}

	return strings.HasPrefix(name, "~") || strings.HasPrefix(name, ".~")
}
