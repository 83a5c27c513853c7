package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/julispace/proton-drive-sync/internal/state"
)

func newStatusCmd() *cobra.Command {
	var recentN int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job queue counts, blocked jobs, and recently synced files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), recentN)
		},
	}

	cmd.Flags().IntVar(&recentN, "recent", 10, "number of recently synced jobs to show")

	return cmd
}

// statusReport is the --json shape; field names are part of the CLI's
// stable output contract so they're spelled out rather than left to struct
// tag defaults.
type statusReport struct {
	Counts  map[string]int `json:"counts"`
	Blocked []jobSummary   `json:"blocked"`
	Recent  []jobSummary   `json:"recent"`
}

type jobSummary struct {
	ID        int64  `json:"id"`
	EventType string `json:"event_type"`
	LocalPath string `json:"local_path"`
	NRetries  int    `json:"n_retries"`
	LastError string `json:"last_error,omitempty"`
	Age       string `json:"age"`
}

func runStatus(ctx context.Context, recentN int) error {
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

	counts, err := store.CountByState(ctx)
	if err != nil {
		return fmt.Errorf("counting jobs: %w", err)
	}

	blocked, err := store.ListBlocked(ctx)
	if err != nil {
		return fmt.Errorf("listing blocked jobs: %w", err)
	}

	recent, err := store.RecentSynced(ctx, recentN)
	if err != nil {
		return fmt.Errorf("listing recent jobs: %w", err)
	}

	report := statusReport{
		Counts:  make(map[string]int, len(counts)),
		Blocked: summarize(blocked),
		Recent:  summarize(recent),
	}
	for k, v := range counts {
		report.Counts[string(k)] = v
	}

	if flagJSON {
		enc := json.NewEncoder(cmdOut)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printStatus(report)

	return nil
}

func summarize(jobs []state.Job) []jobSummary {
	out := make([]jobSummary, 0, len(jobs))

	for _, j := range jobs {
		out = append(out, jobSummary{
			ID:        j.ID,
			EventType: string(j.EventType),
			LocalPath: j.LocalPath,
			NRetries:  j.NRetries,
			LastError: j.LastError,
			Age:       humanize.Time(time.Unix(j.CreatedAt, 0)),
		})
	}

	return out
}

func printStatus(r statusReport) {
	fmt.Fprintln(cmdOut, "Job counts:")
	for _, s := range []string{"PENDING", "PROCESSING", "SYNCED", "BLOCKED"} {
		fmt.Fprintf(cmdOut, "  %-12s %d\n", s, r.Counts[s])
	}

	fmt.Fprintf(cmdOut, "\nBlocked jobs (%d):\n", len(r.Blocked))
	for _, j := range r.Blocked {
		fmt.Fprintf(cmdOut, "  [%d] %s %s (retries=%d, %s): %s\n",
			j.ID, j.EventType, j.LocalPath, j.NRetries, j.Age, j.LastError)
	}

	fmt.Fprintf(cmdOut, "\nRecently synced (%d):\n", len(r.Recent))
	for _, j := range r.Recent {
		fmt.Fprintf(cmdOut, "  [%d] %s %s (%s)\n", j.ID, j.EventType, j.LocalPath, j.Age)
	}
}
