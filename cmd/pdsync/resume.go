package main

import (
	"github.com/spf13/cobra"

	"github.com/julispace/proton-drive-sync/internal/state"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume claiming jobs after a pause",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pushControlSignal(cmd.Context(), state.SignalResume)
		},
	}
}
