package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/remote/fake"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/signalbus"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/watcher"
)

// fakeWatcher is a test double for watcher.Watcher whose events the test
// controls directly via a channel it owns.
type fakeWatcher struct {
	events chan watcher.Event
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan watcher.Event, 16)}
}

func (w *fakeWatcher) Watch(ctx context.Context, root string) (<-chan watcher.Event, error) {
	out := make(chan watcher.Event, 16)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.events:
				if !ok {
					return
				}

				out <- ev
			}
		}
	}()

	return out, nil
}

func (w *fakeWatcher) Close() error { return nil }

func newTestEngine(t *testing.T, dirs []SyncDir, newWatcher func(*slog.Logger) watcher.Watcher) (*Engine, *store.Store, *fake.Client) {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	client := fake.New()

	if newWatcher == nil {
		newWatcher = func(*slog.Logger) watcher.Watcher { return newFakeWatcher() }
	}

	e, err := NewEngine(Config{
		Store:           st,
		Client:          client,
		Logger:          logger,
		NewWatcher:      newWatcher,
		SyncDirs:        dirs,
		SyncConcurrency: 2,
		PollInterval:    10 * time.Millisecond,
		Debounce:        20 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	require.NoError(t, err)

	return e, st, client
}

func TestRunOnce_SyncsNewFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	e, _, client := newTestEngine(t, []SyncDir{{Local: dir}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := e.RunOnce(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, report.Succeeded)
	require.Zero(t, report.Failed)

	expectedRemote := filepath.Base(dir) + "/a.txt"
	require.NotNil(t, client.NodeByPath(expectedRemote))
}

func TestRunOnce_SkipsAlreadySyncedFile(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello"), 0o644))

	e, st, _ := newTestEngine(t, []SyncDir{{Local: dir}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, st.SetFileHash(ctx, nil, localPath, hashOf(t, "hello")))

	report, err := e.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Succeeded, "already-synced content must not be rescheduled")
}

func hashOf(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	p := filepath.Join(dir, "tmp")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	h, err := hashFile(p)
	require.NoError(t, err)

	return h
}

func TestCleanupOrphaned_PrunesRowsOutsideConfiguredRoots(t *testing.T) {
	e, st, _ := newTestEngine(t, []SyncDir{{Local: "/keep"}}, nil)
	ctx := context.Background()

	require.NoError(t, st.SetFileHash(ctx, nil, "/gone/a.txt", "h1"))
	require.NoError(t, st.SetNodeMapping(ctx, nil, store.NodeMapping{
		LocalPath: "/gone/b.txt", RemotePath: "x/b.txt", NodeUID: "uid-1",
	}))
	require.NoError(t, st.SetFileHash(ctx, nil, "/keep/a.txt", "h2"))

	stats, err := e.cleanupOrphaned(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.HashesPruned)
	require.EqualValues(t, 1, stats.MappingsPruned)

	hash, err := st.GetFileHash(ctx, nil, "/keep/a.txt")
	require.NoError(t, err)
	require.Equal(t, "h2", hash)
}

func TestRunWatch_PauseSignalSetsFlag(t *testing.T) {
	dir := t.TempDir()
	e, _, _ := newTestEngine(t, []SyncDir{{Local: dir}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		_ = e.RunWatch(ctx)
	}()

	require.NoError(t, e.bus.Send(ctx, signalbus.SignalPause))

	require.Eventually(t, func() bool {
		paused, err := e.flags.Paused(ctx)
		return err == nil && paused
	}, time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
}
