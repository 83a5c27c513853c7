package config

import (
	"os"
	"path/filepath"
)

const appDirName = "pdsync"

// StateDir resolves the directory pdsync uses for its database, lock file,
// and log files, honoring XDG_STATE_HOME with a ~/.local/state fallback.
func StateDir() (string, error) {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, ".local", "state", appDirName), nil
}

// ConfigPath resolves the default path to config.json, honoring
// XDG_CONFIG_HOME with a ~/.config fallback.
func ConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName, "config.json"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(home, ".config", appDirName, "config.json"), nil
}

// EnsureStateDir creates the state directory (and parents) if it does not
// already exist, returning its path.
func EnsureStateDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}

	return dir, nil
}
