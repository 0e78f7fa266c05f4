package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE, available to every subcommand.
var resolvedCfg *config.Resolved

// defaultPIDFileName names the daemon's lock file within
// config.DefaultDataDir.
const defaultPIDFileName = "nimbus-syncd.pid"

// defaultDBFileNameConst names the daemon's SQLite state file within
// config.DefaultDataDir when the config doesn't override db_path with
// an absolute path.
const defaultDBFileNameConst = "nimbus-syncd.db"

// newRootCmd builds and returns the fully-assembled root command with
// every subcommand registered. Called once from main.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "nimbus-syncd",
		Short:   "Background daemon mirroring local directories to remote storage",
		Long: `nimbus-syncd watches configured local directories and mirrors their
contents to a remote content-addressed storage service: create, update,
delete, rename, and move, kept durable across restarts in a local
SQLite job queue.`,
		Version: version,
		// Silence Cobra's default error/usage printing; we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default: "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// configPath resolves the config file path to use: the --config flag if
// set, otherwise the platform default.
func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}

	return config.DefaultConfigPath()
}

// loadConfig resolves the effective configuration and stores it in
// resolvedCfg for use by subcommands.
func loadConfig() error {
	cfg, err := config.LoadOrDefault(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolved, err := cfg.Resolve()
	if err != nil {
		return fmt.Errorf("resolving config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// dbPath returns the absolute path to the daemon's SQLite state file,
// resolving a relative config db_path against config.DefaultDataDir.
func dbPath() string {
	p := defaultDBFileNameConst
	if resolvedCfg != nil && resolvedCfg.DBPath != "" {
		p = resolvedCfg.DBPath
	}

	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(config.DefaultDataDir(), p)
}

// pidFilePath returns the path to the daemon's PID/lock file.
func pidFilePath() string {
	return filepath.Join(config.DefaultDataDir(), defaultPIDFileName)
}

// buildLogger creates an slog.Logger configured by the resolved config
// and CLI flags. Config-file log level provides the baseline;
// --verbose and --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
