// Package config implements JSON configuration loading, validation, and
// platform-specific path resolution for pdsync.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// SyncDir pairs a local directory with the remote prefix it mirrors to.
type SyncDir struct {
	SourcePath string `json:"source_path"`
	RemoteRoot string `json:"remote_root"`
}

// Config is the top-level JSON configuration document (spec.md section 6).
type Config struct {
	SyncDirs        []SyncDir `json:"sync_dirs"`
	SyncConcurrency int       `json:"sync_concurrency"`
	ExcludePatterns []string  `json:"exclude_patterns"`
}

// Defaults.
const (
	DefaultSyncConcurrency = 8
)

// DefaultConfig returns a Config populated with default values. Used as the
// decode target so that unset JSON fields retain sane defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncConcurrency: DefaultSyncConcurrency,
		ExcludePatterns: []string{},
	}
}

// Load reads and parses the JSON config file at path, validates it, and
// returns the resulting Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks a Config for internal consistency, returning every
// violation joined into a single error rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	if len(cfg.SyncDirs) == 0 {
		errs = append(errs, errors.New("sync_dirs must contain at least one entry"))
	}

	if cfg.SyncConcurrency < 1 {
		errs = append(errs, fmt.Errorf("sync_concurrency must be >= 1, got %d", cfg.SyncConcurrency))
	}

	for i, d := range cfg.SyncDirs {
		if d.SourcePath == "" {
			errs = append(errs, fmt.Errorf("sync_dirs[%d]: source_path is required", i))
			continue
		}

		if !filepath.IsAbs(d.SourcePath) {
			errs = append(errs, fmt.Errorf("sync_dirs[%d]: source_path must be absolute, got %q", i, d.SourcePath))
		}

		if d.RemoteRoot == "" {
			errs = append(errs, fmt.Errorf("sync_dirs[%d]: remote_root is required", i))
		}
	}

	errs = append(errs, validateNoOverlap(cfg.SyncDirs)...)

	return errors.Join(errs...)
}

// validateNoOverlap rejects sync roots that are nested inside one another,
// per spec.md section 9's recommendation under Open Questions.
func validateNoOverlap(dirs []SyncDir) []error {
	var errs []error

	for i := range dirs {
		for j := range dirs {
			if i == j {
				continue
			}

			a := filepath.Clean(dirs[i].SourcePath)
			b := filepath.Clean(dirs[j].SourcePath)

			if a == b || isWithin(b, a) {
				errs = append(errs, fmt.Errorf(
					"sync_dirs[%d] (%s) overlaps with sync_dirs[%d] (%s)", i, a, j, b))
			}
		}
	}

	return errs
}

// isWithin reports whether child is nested inside (or equal to) parent.
func isWithin(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}

	return rel != ".." && !filepathHasDotDotPrefix(rel)
}

func filepathHasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}
