package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/queue"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/remote/fake"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
)

func newTestExecutor(t *testing.T, n int, dryRun bool) (*Executor, *queue.Queue, *fake.Client, *store.Store) {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	q := queue.New(st, logger)
	client := fake.New()

	return New(q, client, logger, n, dryRun, 20*time.Millisecond), q, client, st
}

func TestExecutor_CreateFileSucceeds(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello"), 0o644))

	exec, q, client, _ := newTestExecutor(t, 2, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := q.Enqueue(ctx, store.JobParams{
		EventType: store.EventCreate, LocalPath: localPath, RemotePath: "a.txt",
	}, false)
	require.NoError(t, err)

	runCtx, runCancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		_ = exec.Run(runCtx)
		close(done)
	}()

	select {
	case res := <-exec.Results():
		require.True(t, res.Success, "expected create job to succeed: %s", res.ErrMsg)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for job result")
	}

	runCancel()
	<-done

	require.NotNil(t, client.NodeByPath("a.txt"))
}

func TestExecutor_DryRunNeverDispatches(t *testing.T) {
	exec, q, _, _ := newTestExecutor(t, 2, true)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	job, err := q.Enqueue(ctx, store.JobParams{
		EventType: store.EventCreate, LocalPath: "a.txt", RemotePath: "a.txt",
	}, true)
	require.NoError(t, err)
	require.Zero(t, job.ID)

	done := make(chan struct{})
	go func() {
		_ = exec.Run(ctx)
		close(done)
	}()

	<-done
}

// TestExecutor_ReuploadSelfHealsOnThirdAttempt is scenario 6 of spec §8: a
// job whose remote content was rejected twice as REUPLOAD_NEEDED, and is
// rejected again on its third execution, self-heals via DELETE+CREATE
// instead of being rescheduled, ending SYNCED with a fresh node mapping.
func TestExecutor_ReuploadSelfHealsOnThirdAttempt(t *testing.T) {
	dir := t.TempDir()
	localPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("v2"), 0o644))

	exec, q, client, st := newTestExecutor(t, 1, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	staleNode, err := client.CreateFile(ctx, "a.txt", "", bytes.NewReader([]byte("v1")))
	require.NoError(t, err)

	job, err := st.EnqueueJob(ctx, nil, store.JobParams{
		EventType: store.EventCreate, LocalPath: localPath, RemotePath: "a.txt", ContentHash: "h2",
	}, false)
	require.NoError(t, err)

	require.NoError(t, q.StoreNodeMapping(ctx, nil, &store.SyncJob{LocalPath: localPath, RemotePath: "a.txt"}, staleNode, false))

	// Two prior attempts already failed as REUPLOAD_NEEDED; the job is due
	// now for its third attempt.
	require.NoError(t, st.ScheduleRetry(ctx, nil, job.ID, reuploadSelfHealThreshold, "upload session expired", time.Now().Add(-time.Second).UnixNano()))

	client.FailNext["CreateFile"] = errors.New("upload session expired")

	runCtx, runCancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		_ = exec.Run(runCtx)
		close(done)
	}()

	select {
	case res := <-exec.Results():
		require.True(t, res.Success, "expected self-heal to recover the job: %s", res.ErrMsg)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for job result")
	}

	runCancel()
	<-done

	healed := client.NodeByPath("a.txt")
	require.NotNil(t, healed)
	require.NotEqual(t, staleNode.UID, healed.UID, "self-heal must create a fresh node, not reuse the stale one")

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusSynced, final.Status)

	mapping, err := st.GetNodeMappingByLocalPath(ctx, nil, localPath)
	require.NoError(t, err)
	require.NotNil(t, mapping)
	require.Equal(t, healed.UID, mapping.NodeUID)
}
