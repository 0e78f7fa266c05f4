// Package config implements TOML configuration loading, validation, and
// change-notification for nimbus-syncd: which directories to mirror,
// worker concurrency, polling/debounce/shutdown timings, and where the
// daemon keeps its SQLite state.
package config

import "time"

// SyncDir is one configured local directory tree to mirror, and the
// remote path prefix (possibly empty) it mirrors under.
type SyncDir struct {
	Local      string `toml:"local"`
	RemoteRoot string `toml:"remote_root"`
}

// Config is the top-level configuration structure parsed from a TOML
// file. Durations are stored as TOML strings ("100ms", "30s") and parsed
// on Resolve, matching the teacher's string-typed duration fields.
type Config struct {
	SyncDirs        []SyncDir `toml:"sync_dirs"`
	SyncConcurrency int       `toml:"sync_concurrency"`
	PollInterval    string    `toml:"poll_interval"`
	Debounce        string    `toml:"debounce"`
	ShutdownTimeout string    `toml:"shutdown_timeout"`
	DBPath          string    `toml:"db_path"`
	LogLevel        string    `toml:"log_level"`
	DryRun          bool      `toml:"dry_run"`
}

// Default values for configuration options not provided in the file.
const (
	defaultSyncConcurrency = 4
	defaultPollInterval    = "100ms"
	defaultDebounce        = "200ms"
	defaultShutdownTimeout = "30s"
	defaultDBPath          = "nimbus-syncd.db"
	defaultLogLevel        = "info"
)

// DefaultConfig returns a Config populated with all default values. Used
// both as the decode target (so unset fields retain defaults) and as the
// fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		SyncConcurrency: defaultSyncConcurrency,
		PollInterval:    defaultPollInterval,
		Debounce:        defaultDebounce,
		ShutdownTimeout: defaultShutdownTimeout,
		DBPath:          defaultDBPath,
		LogLevel:        defaultLogLevel,
	}
}

// Resolved is Config with its duration strings parsed, ready to hand to
// the engine.
type Resolved struct {
	SyncDirs        []SyncDir
	SyncConcurrency int
	PollInterval    time.Duration
	Debounce        time.Duration
	ShutdownTimeout time.Duration
	DBPath          string
	LogLevel        string
	DryRun          bool
}

// Resolve validates cfg and parses its duration fields, returning a
// Resolved ready for the engine and CLI glue to consume.
func (c *Config) Resolve() (*Resolved, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}

	poll, _ := time.ParseDuration(c.PollInterval)
	debounce, _ := time.ParseDuration(c.Debounce)
	shutdown, _ := time.ParseDuration(c.ShutdownTimeout)

	return &Resolved{
		SyncDirs:        append([]SyncDir(nil), c.SyncDirs...),
		SyncConcurrency: c.SyncConcurrency,
		PollInterval:    poll,
		Debounce:        debounce,
		ShutdownTimeout: shutdown,
		DBPath:          c.DBPath,
		LogLevel:        c.LogLevel,
		DryRun:          c.DryRun,
	}, nil
}
