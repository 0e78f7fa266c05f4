package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/config"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/engine"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/flags"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/localwatch"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/remote/fake"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/watcher"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the sync daemon in the foreground",
		Long: `Run the sync daemon's continuous watch loop in the foreground: local
filesystem changes flow through the change translator into a durable
job queue, which a bounded worker pool executes against the remote.

Blocks until interrupted (SIGINT/SIGTERM) or until a "stop" command
sends a drain signal. Only one instance may run against a given state
directory at a time.`,
		RunE: runStart,
	}
}

func runStart(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	if len(resolvedCfg.SyncDirs) == 0 {
		return fmt.Errorf("no sync_dirs configured; edit %s", configPath())
	}

	cleanup, err := writePIDFile(pidFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	st, err := openStore(ctx, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	reg := flags.New(st)

	if err := reg.SetRunning(ctx, true); err != nil {
		logger.Error("failed to set running flag", slog.Any("error", err))
	}

	defer func() {
		if err := reg.SetRunning(context.Background(), false); err != nil {
			logger.Error("failed to clear running flag", slog.Any("error", err))
		}
	}()

	configChanges := watchConfigChanges(ctx, logger)

	eng, err := engine.NewEngine(engine.Config{
		Store:  st,
		Client: fake.New(),
		Logger: logger,
		NewWatcher: func(l *slog.Logger) watcher.Watcher {
			return localwatch.New(l)
		},
		SyncDirs:        toEngineSyncDirs(resolvedCfg.SyncDirs),
		SyncConcurrency: resolvedCfg.SyncConcurrency,
		PollInterval:    resolvedCfg.PollInterval,
		Debounce:        resolvedCfg.Debounce,
		ShutdownTimeout: resolvedCfg.ShutdownTimeout,
		DryRun:          resolvedCfg.DryRun,
		ConfigChanges:   configChanges,
	})
	if err != nil {
		return fmt.Errorf("wiring engine: %w", err)
	}
	defer eng.Close()

	logger.Info("nimbus-syncd starting",
		slog.Int("sync_dirs", len(resolvedCfg.SyncDirs)),
		slog.Int("concurrency", resolvedCfg.SyncConcurrency),
		slog.Bool("dry_run", resolvedCfg.DryRun),
	)

	return eng.RunWatch(ctx)
}

// toEngineSyncDirs adapts the config layer's SyncDir into the engine
// layer's identically-shaped type, keeping the two packages decoupled.
func toEngineSyncDirs(dirs []config.SyncDir) []engine.SyncDir {
	out := make([]engine.SyncDir, len(dirs))
	for i, d := range dirs {
		out[i] = engine.SyncDir{Local: d.Local, RemoteRoot: d.RemoteRoot}
	}

	return out
}

// watchConfigChanges wires up config hot-reload, translating
// config.Change values into engine.ConfigChange as they arrive. A
// failure to start the watch is logged and treated as "no hot-reload",
// not a fatal startup error.
func watchConfigChanges(ctx context.Context, logger *slog.Logger) <-chan engine.ConfigChange {
	raw, err := config.Watch(ctx, configPath(), logger)
	if err != nil {
		logger.Warn("config hot-reload unavailable", slog.Any("error", err))

		return nil
	}

	out := make(chan engine.ConfigChange)

	go func() {
		defer close(out)

		for change := range raw {
			ec := engine.ConfigChange{SyncConcurrency: change.SyncConcurrency}
			if change.SyncDirs != nil {
				ec.SyncDirs = toEngineSyncDirs(change.SyncDirs)
			}

			select {
			case out <- ec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
