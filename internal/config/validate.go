package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Validation range constants.
const (
	minSyncConcurrency = 1
	maxSyncConcurrency = 64
	minPollInterval    = 10 * time.Millisecond
	minShutdownTimeout = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSyncDirs(cfg.SyncDirs)...)

	if cfg.SyncConcurrency < minSyncConcurrency || cfg.SyncConcurrency > maxSyncConcurrency {
		errs = append(errs, fmt.Errorf("sync_concurrency: must be between %d and %d, got %d",
			minSyncConcurrency, maxSyncConcurrency, cfg.SyncConcurrency))
	}

	errs = append(errs, validateDurationMin("poll_interval", cfg.PollInterval, minPollInterval)...)
	errs = append(errs, validateDurationMin("debounce", cfg.Debounce, 0)...)
	errs = append(errs, validateDurationMin("shutdown_timeout", cfg.ShutdownTimeout, minShutdownTimeout)...)
	errs = append(errs, validateLogLevel(cfg.LogLevel)...)

	if cfg.DBPath == "" {
		errs = append(errs, errors.New("db_path: must not be empty"))
	}

	return errors.Join(errs...)
}

func validateSyncDirs(dirs []SyncDir) []error {
	var errs []error

	seen := make(map[string]bool, len(dirs))

	for i, d := range dirs {
		if d.Local == "" {
			errs = append(errs, fmt.Errorf("sync_dirs[%d].local: must not be empty", i))
			continue
		}

		if !filepath.IsAbs(d.Local) {
			errs = append(errs, fmt.Errorf("sync_dirs[%d].local: must be an absolute path, got %q", i, d.Local))
		}

		if seen[d.Local] {
			errs = append(errs, fmt.Errorf("sync_dirs[%d].local: duplicate sync dir %q", i, d.Local))
		}

		seen[d.Local] = true
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a
// minimum. Used for fields whose name is contextual at the call site.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}
