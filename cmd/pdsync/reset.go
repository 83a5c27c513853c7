package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var signalsOnly, retriesOnly bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear queued signals, retry backoff, or all sync state",
		Long: "By default, reset wipes every table in the state database: job queue, file " +
			"state, hashes, node mappings, and config snapshots. --signals-only clears only " +
			"the pending control-signal queue; --retries-only unblocks BLOCKED jobs and " +
			"cancels any pending retry delay without touching anything else.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if signalsOnly && retriesOnly {
				return fmt.Errorf("--signals-only and --retries-only are mutually exclusive")
			}

			return runReset(cmd.Context(), signalsOnly, retriesOnly)
		},
	}

	cmd.Flags().BoolVar(&signalsOnly, "signals-only", false, "clear only the queued control signals")
	cmd.Flags().BoolVar(&retriesOnly, "retries-only", false, "unblock retries without wiping sync state")

	return cmd
}

func runReset(ctx context.Context, signalsOnly, retriesOnly bool) error {
	stateDir, err := resolveStateDir()
	if err != nil {
		return fmt.Errorf("resolving state dir: %w", err)
	}

	logger, closeLog, err := buildLogger(stateDir)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := openStore(ctx, stateDir, logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	switch {
	case signalsOnly:
		return store.ClearSignals(ctx)
	case retriesOnly:
		return store.ResetRetryTimers(ctx, time.Now().Unix())
	default:
		return store.ResetAll(ctx)
	}
}
