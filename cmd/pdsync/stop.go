package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/julispace/proton-drive-sync/internal/state"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running agent to stop after finishing in-flight jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pushControlSignal(cmd.Context(), state.SignalStop)
		},
	}
}

// pushControlSignal opens the state store directly (the agent polls it on
// an interval) and enqueues tag for the running engine's signalLoop to pick
// up; it does not talk to the running process itself.
func pushControlSignal(ctx context.Context, tag string) error {
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

	if err := store.PushSignal(ctx, tag); err != nil {
		return fmt.Errorf("pushing %s signal: %w", tag, err)
	}

	return nil
}
