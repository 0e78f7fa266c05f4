package translator

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/watcher"
)

func newTestTranslator(t *testing.T) (*Translator, *store.Store) {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(st, logger, "/root", "", "docs"), st
}

func TestTranslate_CreateEnqueuesJob(t *testing.T) {
	tr, st := newTestTranslator(t)
	ctx := context.Background()

	require.NoError(t, tr.Translate(ctx, []watcher.Event{
		{Kind: watcher.EventCreate, Path: "a.txt", ContentHash: "h1"},
	}))

	jobs, err := st.ListJobsByStatus(ctx, store.StatusPending)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, store.EventCreate, jobs[0].EventType)
	require.Equal(t, "docs/a.txt", jobs[0].RemotePath)
}

func TestTranslate_WriteSuppressedWhenHashUnchanged(t *testing.T) {
	tr, st := newTestTranslator(t)
	ctx := context.Background()

	localPath := "/root/a.txt"
	require.NoError(t, st.SetFileHash(ctx, nil, localPath, "h1"))

	require.NoError(t, tr.Translate(ctx, []watcher.Event{
		{Kind: watcher.EventWrite, Path: "a.txt", ContentHash: "h1"},
	}))

	jobs, err := st.ListJobsByStatus(ctx, store.StatusPending)
	require.NoError(t, err)
	require.Empty(t, jobs, "unchanged content must not enqueue a job")
}

func TestTranslate_WriteEnqueuedWhenHashChanged(t *testing.T) {
	tr, st := newTestTranslator(t)
	ctx := context.Background()

	localPath := "/root/a.txt"
	require.NoError(t, st.SetFileHash(ctx, nil, localPath, "h1"))

	require.NoError(t, tr.Translate(ctx, []watcher.Event{
		{Kind: watcher.EventWrite, Path: "a.txt", ContentHash: "h2"},
	}))

	jobs, err := st.ListJobsByStatus(ctx, store.StatusPending)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, store.EventUpdate, jobs[0].EventType)
}

func TestTranslate_RemoveCreatePairBecomesRename(t *testing.T) {
	tr, st := newTestTranslator(t)
	ctx := context.Background()

	require.NoError(t, st.SetNodeMapping(ctx, nil, store.NodeMapping{
		LocalPath: "/root/old.txt", RemotePath: "docs/old.txt", NodeUID: "uid-1",
	}))

	require.NoError(t, tr.Translate(ctx, []watcher.Event{
		{Kind: watcher.EventRemove, Path: "old.txt", Ino: 42},
		{Kind: watcher.EventCreate, Path: "new.txt", Ino: 42},
	}))

	jobs, err := st.ListJobsByStatus(ctx, store.StatusPending)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, store.EventRename, jobs[0].EventType)
	require.Equal(t, "/root/old.txt", jobs[0].OldLocalPath)
	require.Equal(t, "/root/new.txt", jobs[0].LocalPath)
}

func TestTranslate_RemoveCreatePairAcrossDirsBecomesMove(t *testing.T) {
	tr, st := newTestTranslator(t)
	ctx := context.Background()

	require.NoError(t, st.SetNodeMapping(ctx, nil, store.NodeMapping{
		LocalPath: "/root/sub/old.txt", RemotePath: "docs/sub/old.txt", NodeUID: "uid-1",
	}))

	require.NoError(t, tr.Translate(ctx, []watcher.Event{
		{Kind: watcher.EventRemove, Path: "sub/old.txt", Ino: 7},
		{Kind: watcher.EventCreate, Path: "other/new.txt", Ino: 7},
	}))

	jobs, err := st.ListJobsByStatus(ctx, store.StatusPending)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, store.EventMove, jobs[0].EventType)
}

func TestTranslate_RemoveWithoutInoIsPlainDelete(t *testing.T) {
	tr, st := newTestTranslator(t)
	ctx := context.Background()

	require.NoError(t, tr.Translate(ctx, []watcher.Event{
		{Kind: watcher.EventRemove, Path: "gone.txt"},
	}))

	jobs, err := st.ListJobsByStatus(ctx, store.StatusPending)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, store.EventDelete, jobs[0].EventType)
}

func TestTranslate_DirectoryDeleteCascadesHashAndMappingCleanup(t *testing.T) {
	tr, st := newTestTranslator(t)
	ctx := context.Background()

	require.NoError(t, st.SetFileHash(ctx, nil, "/root/dir/a.txt", "h1"))
	require.NoError(t, st.SetNodeMapping(ctx, nil, store.NodeMapping{
		LocalPath: "/root/dir/a.txt", RemotePath: "docs/dir/a.txt", NodeUID: "uid-2",
	}))

	require.NoError(t, tr.Translate(ctx, []watcher.Event{
		{Kind: watcher.EventRemove, Path: "dir", IsDir: true},
	}))

	hash, err := st.GetFileHash(ctx, nil, "/root/dir/a.txt")
	require.NoError(t, err)
	require.Empty(t, hash)

	mapping, err := st.GetNodeMappingByLocalPath(ctx, nil, "/root/dir/a.txt")
	require.NoError(t, err)
	require.Nil(t, mapping)
}
