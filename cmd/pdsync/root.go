package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/julispace/proton-drive-sync/internal/config"
	"github.com/julispace/proton-drive-sync/internal/rotatelog"
	"github.com/julispace/proton-drive-sync/internal/state"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagStateDir   string
	flagQuiet      bool
	flagJSON       bool
)

// cmdOut is where status output is written; overridden in tests.
var cmdOut io.Writer = os.Stdout

const stateDBFileName = "state.db"
const pidFileName = "pdsync.pid"
const logFileName = "pdsync.log"

// newRootCmd builds the fully-assembled root command with every subcommand
// registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pdsync",
		Short:         "Local-to-Proton-Drive sync agent",
		Long:          "pdsync mirrors local directories to Proton Drive: watch, classify, queue, and execute.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default: XDG config dir)")
	cmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "state directory for the database, lock, and log files (default: XDG state dir)")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")

	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// resolveConfigPath returns the effective config file path: the --config
// flag if set, else the XDG default.
func resolveConfigPath() (string, error) {
	if flagConfigPath != "" {
		return flagConfigPath, nil
	}

	return config.ConfigPath()
}

// resolveStateDir returns the effective state directory, creating it if
// necessary: the --state-dir flag if set, else the XDG default.
func resolveStateDir() (string, error) {
	if flagStateDir != "" {
		if err := os.MkdirAll(flagStateDir, 0o700); err != nil {
			return "", fmt.Errorf("creating state dir %s: %w", flagStateDir, err)
		}

		return flagStateDir, nil
	}

	return config.EnsureStateDir()
}

// buildLogger opens the rotating log file in stateDir and returns a logger
// that writes to it, mirroring to stderr unless --quiet was given.
func buildLogger(stateDir string) (*slog.Logger, func() error, error) {
	w, err := rotatelog.Open(filepath.Join(stateDir, logFileName), rotatelog.DefaultMaxBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var out io.Writer = w
	if !flagQuiet {
		out = io.MultiWriter(w, os.Stderr)
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))

	return logger, w.Close, nil
}

// openStore opens the state database in stateDir, applying migrations.
func openStore(ctx context.Context, stateDir string, logger *slog.Logger) (*state.Store, error) {
	return state.Open(ctx, filepath.Join(stateDir, stateDBFileName), logger)
}

// exitOnError prints a user-friendly error message to stderr and exits 1.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
