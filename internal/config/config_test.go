package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestLoadOrDefault_NoFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, `
sync_concurrency = 8
poll_interval = "50ms"

[[sync_dirs]]
local = "/home/alice/Documents"
remote_root = "Documents"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.SyncConcurrency)
	require.Equal(t, "50ms", cfg.PollInterval)
	require.Len(t, cfg.SyncDirs, 1)
	require.Equal(t, "/home/alice/Documents", cfg.SyncDirs[0].Local)
	require.Equal(t, "Documents", cfg.SyncDirs[0].RemoteRoot)
}

func TestLoad_UnknownKeySuggestsClosestMatch(t *testing.T) {
	path := writeConfig(t, `sync_concurency = 4`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown config key "sync_concurency"`)
	require.Contains(t, err.Error(), `did you mean "sync_concurrency"`)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `poll_interval = "not-a-duration"`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "poll_interval")
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncConcurrency = 0
	cfg.LogLevel = "verbose"
	cfg.PollInterval = "bogus"

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sync_concurrency")
	require.Contains(t, err.Error(), "log_level")
	require.Contains(t, err.Error(), "poll_interval")
}

func TestValidate_RejectsRelativeSyncDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncDirs = []SyncDir{{Local: "relative/path"}}

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must be an absolute path")
}

func TestValidate_RejectsDuplicateSyncDirs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncDirs = []SyncDir{{Local: "/a"}, {Local: "/a"}}

	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate sync dir")
}

func TestResolve_ParsesDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncDirs = []SyncDir{{Local: "/a"}}

	resolved, err := cfg.Resolve()
	require.NoError(t, err)
	require.Equal(t, 100*time.Millisecond, resolved.PollInterval)
	require.Equal(t, 200*time.Millisecond, resolved.Debounce)
	require.Equal(t, 30*time.Second, resolved.ShutdownTimeout)
}

func TestLevenshtein(t *testing.T) {
	require.Equal(t, 0, levenshtein("abc", "abc"))
	require.Equal(t, 1, levenshtein("abc", "abd"))
	require.Equal(t, 3, levenshtein("", "abc"))
}

func TestWatch_EmitsChangeOnReload(t *testing.T) {
	path := writeConfig(t, `
sync_concurrency = 4

[[sync_dirs]]
local = "/a"
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	changes, err := Watch(ctx, path, logger)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
sync_concurrency = 9

[[sync_dirs]]
local = "/a"
`), 0o644))

	select {
	case change := <-changes:
		require.NotNil(t, change.SyncConcurrency)
		require.Equal(t, 9, *change.SyncConcurrency)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config change")
	}
}
