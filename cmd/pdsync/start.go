package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/julispace/proton-drive-sync/internal/auth"
	"github.com/julispace/proton-drive-sync/internal/config"
	"github.com/julispace/proton-drive-sync/internal/engine"
)

func newStartCmd() *cobra.Command {
	var noWatch, dryRun, startPaused bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the sync agent in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), noWatch, dryRun, startPaused)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "scan once per directory, skip live fsnotify watching")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify and log actions without executing them")
	cmd.Flags().BoolVar(&startPaused, "paused", false, "start with job claiming paused until a resume signal arrives")

	return cmd
}

func runStart(ctx context.Context, noWatch, dryRun, startPaused bool) error {
	configPath, err := resolveConfigPath()
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	syncCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}

	stateDir, err := resolveStateDir()
	if err != nil {
		return fmt.Errorf("resolving state dir: %w", err)
	}

	logger, closeLog, err := buildLogger(stateDir)
	if err != nil {
		return err
	}
	defer closeLog()

	release, err := acquireLock(filepath.Join(stateDir, pidFileName))
	if err != nil {
		return err
	}
	defer release()

	ctx = shutdownContext(ctx, logger)

	store, err := openStore(ctx, stateDir, logger)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	logger.Info("authenticating")

	provider := auth.WithBackoff(newAuthProviderFunc(), logger)

	client, _, err := provider.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	eng := engine.New(store, client, syncCfg, engine.Config{
		ConfigPath:  configPath,
		NoWatch:     noWatch,
		DryRun:      dryRun,
		StartPaused: startPaused,
		SignalPoll:  time.Second,
	}, logger)

	logger.Info("starting sync engine", "config", configPath, "state_dir", stateDir, "dry_run", dryRun)

	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("engine stopped with error: %w", err)
	}

	logger.Info("sync engine stopped cleanly")

	return nil
}
