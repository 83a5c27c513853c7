package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExcluder_AlwaysExcludedSuffixes(t *testing.T) {
	e := NewExcluder(nil)

	assert.True(t, e.Excluded("download.partial", "download.partial"))
	assert.True(t, e.Excluded("notes.txt.swp", "notes.txt.swp"))
	assert.True(t, e.Excluded("state.db-wal", "state.db-wal"))
	assert.False(t, e.Excluded("notes.txt", "notes.txt"))
}

func TestExcluder_EditorBackupPrefixes(t *testing.T) {
	e := NewExcluder(nil)

	assert.True(t, e.Excluded("~notes.txt", "~notes.txt"))
	assert.True(t, e.Excluded(".~lock.notes.txt#", ".~lock.notes.txt#"))
}

func TestExcluder_GlobPatterns(t *testing.T) {
	e := NewExcluder([]string{"node_modules/**", "*.log"})

	assert.True(t, e.Excluded("node_modules/left-pad/index.js", "index.js"))
	assert.True(t, e.Excluded("debug.log", "debug.log"))
	assert.False(t, e.Excluded("src/main.go", "main.go"))
}

func TestExcluder_InvalidNames(t *testing.T) {
	e := NewExcluder(nil)

	assert.True(t, e.Excluded("trailing dot.", "trailing dot."))
	assert.True(t, e.Excluded("trailing space ", "trailing space "))
	assert.False(t, e.Excluded("a.b.c", "a.b.c"))
}

func TestInvalidName(t *testing.T) {
	invalid, reason := InvalidName("notes.")
	assert.True(t, invalid)
	assert.Equal(t, "name ends with a dot", reason)

	invalid, reason = InvalidName("notes ")
	assert.True(t, invalid)
	assert.Equal(t, "name ends with a space", reason)

	invalid, _ = InvalidName("")
	assert.True(t, invalid)

	invalid, _ = InvalidName("perfectly-fine-name.txt")
	assert.False(t, invalid)
}

func TestExcluder_MarkerExcluded(t *testing.T) {
	e := NewExcluder(nil)
	dir := t.TempDir()

	assert.False(t, e.MarkerExcluded(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ignoreMarkerName), nil, 0o644))
	assert.True(t, e.MarkerExcluded(dir))
}
