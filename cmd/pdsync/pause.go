package main

import (
	"github.com/spf13/cobra"

	"github.com/julispace/proton-drive-sync/internal/state"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Stop claiming new jobs until resumed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pushControlSignal(cmd.Context(), state.SignalPause)
		},
	}
}
