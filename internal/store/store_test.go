package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(ctx, ":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestEnqueueJob_DryRunIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.EnqueueJob(ctx, nil, JobParams{
		EventType: EventCreate, LocalPath: "a.txt", RemotePath: "a.txt",
	}, true)
	require.NoError(t, err)
	require.Zero(t, job.ID)

	jobs, err := s.ListJobsByStatus(ctx, StatusPending)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestEnqueueJob_LatestWinsOnActiveConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnqueueJob(ctx, nil, JobParams{
		EventType: EventCreate, LocalPath: "a.txt", RemotePath: "a.txt", ContentHash: "h1",
	}, false)
	require.NoError(t, err)

	second, err := s.EnqueueJob(ctx, nil, JobParams{
		EventType: EventUpdate, LocalPath: "a.txt", RemotePath: "a.txt", ContentHash: "h2",
	}, false)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "upsert must re-key the same row, not insert a second one")
	require.Equal(t, EventUpdate, second.EventType)
	require.Equal(t, "h2", second.ContentHash)

	jobs, err := s.ListJobsByStatus(ctx, StatusPending)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestEnqueueJob_TerminalJobsDoNotConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.EnqueueJob(ctx, nil, JobParams{
		EventType: EventCreate, LocalPath: "a.txt", RemotePath: "a.txt",
	}, false)
	require.NoError(t, err)

	require.NoError(t, s.MarkJobSynced(ctx, nil, job.ID))

	second, err := s.EnqueueJob(ctx, nil, JobParams{
		EventType: EventUpdate, LocalPath: "a.txt", RemotePath: "a.txt",
	}, false)
	require.NoError(t, err)
	require.NotEqual(t, job.ID, second.ID, "a new active job must not collide with a terminal row")

	synced, err := s.ListJobsByStatus(ctx, StatusSynced)
	require.NoError(t, err)
	require.Len(t, synced, 1)
}

func TestLeaseJob_OnlyOneLeaseSucceeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.EnqueueJob(ctx, nil, JobParams{
		EventType: EventCreate, LocalPath: "a.txt", RemotePath: "a.txt",
	}, false)
	require.NoError(t, err)

	leased1, err := s.LeaseJob(ctx, nil, job.ID)
	require.NoError(t, err)
	require.True(t, leased1)

	leased2, err := s.LeaseJob(ctx, nil, job.ID)
	require.NoError(t, err)
	require.False(t, leased2)
}

func TestResetProcessingJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.EnqueueJob(ctx, nil, JobParams{
		EventType: EventCreate, LocalPath: "a.txt", RemotePath: "a.txt",
	}, false)
	require.NoError(t, err)
	_, err = s.LeaseJob(ctx, nil, job.ID)
	require.NoError(t, err)
	leased, err := s.LeaseJob(ctx, nil, job.ID)
	require.NoError(t, err)
	require.False(t, leased) // already PROCESSING from first call

	n, err := s.ResetProcessingJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestScheduleRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.EnqueueJob(ctx, nil, JobParams{
		EventType: EventCreate, LocalPath: "a.txt", RemotePath: "a.txt",
	}, false)
	require.NoError(t, err)

	retryAt := time.Now().Add(time.Hour).UnixNano()
	require.NoError(t, s.ScheduleRetry(ctx, nil, job.ID, 1, "boom", retryAt))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, 1, got.NRetries)
	require.Equal(t, "boom", got.LastError)

	// Not yet due.
	next, err := s.GetNextPendingJob(ctx)
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetJob(ctx, 999)
	require.Error(t, err)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestFileHash_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.GetFileHash(ctx, nil, "a.txt")
	require.NoError(t, err)
	require.Empty(t, hash)

	require.NoError(t, s.SetFileHash(ctx, nil, "a.txt", "deadbeef"))

	hash, err = s.GetFileHash(ctx, nil, "a.txt")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", hash)

	require.NoError(t, s.DeleteFileHash(ctx, nil, "a.txt"))

	hash, err = s.GetFileHash(ctx, nil, "a.txt")
	require.NoError(t, err)
	require.Empty(t, hash)
}

func TestFileHash_DeleteUnderPrefixCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetFileHash(ctx, nil, "dir", "d"))
	require.NoError(t, s.SetFileHash(ctx, nil, "dir/a.txt", "a"))
	require.NoError(t, s.SetFileHash(ctx, nil, "dir/sub/b.txt", "b"))
	require.NoError(t, s.SetFileHash(ctx, nil, "dir2/a.txt", "other"))

	require.NoError(t, s.DeleteFileHashesUnderPrefix(ctx, nil, "dir"))

	for _, p := range []string{"dir", "dir/a.txt", "dir/sub/b.txt"} {
		h, err := s.GetFileHash(ctx, nil, p)
		require.NoError(t, err)
		require.Empty(t, h, "expected %s to be purged", p)
	}

	h, err := s.GetFileHash(ctx, nil, "dir2/a.txt")
	require.NoError(t, err)
	require.Equal(t, "other", h, "sibling directory must survive the cascade")
}

func TestNodeMapping_UpdatePathPreservesIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetNodeMapping(ctx, nil, NodeMapping{
		LocalPath: "a.txt", RemotePath: "a.txt", NodeUID: "uid-1",
	}))

	require.NoError(t, s.UpdateNodeMappingPath(ctx, nil, "a.txt", "a.txt", "b.txt", "b.txt"))

	old, err := s.GetNodeMappingByLocalPath(ctx, nil, "a.txt")
	require.NoError(t, err)
	require.Nil(t, old)

	moved, err := s.GetNodeMappingByLocalPath(ctx, nil, "b.txt")
	require.NoError(t, err)
	require.NotNil(t, moved)
	require.Equal(t, "uid-1", moved.NodeUID)
}

func TestFlags_SetClearIsSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	set, err := s.IsFlagSet(ctx, FlagPaused)
	require.NoError(t, err)
	require.False(t, set)

	require.NoError(t, s.SetFlag(ctx, nil, FlagPaused))
	require.NoError(t, s.SetFlag(ctx, nil, FlagPaused)) // idempotent

	set, err = s.IsFlagSet(ctx, FlagPaused)
	require.NoError(t, err)
	require.True(t, set)

	require.NoError(t, s.ClearFlag(ctx, nil, FlagPaused))

	set, err = s.IsFlagSet(ctx, FlagPaused)
	require.NoError(t, err)
	require.False(t, set)
}

func TestSignals_SendPeekDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sig, err := s.PeekNextSignal(ctx)
	require.NoError(t, err)
	require.Nil(t, sig)

	require.NoError(t, s.SendSignal(ctx, nil, "pause"))
	require.NoError(t, s.SendSignal(ctx, nil, "drain"))

	has, err := s.HasSignal(ctx, "pause")
	require.NoError(t, err)
	require.True(t, has)

	first, err := s.PeekNextSignal(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, "pause", first.Name)

	require.NoError(t, s.DeleteSignal(ctx, nil, first.ID))

	second, err := s.PeekNextSignal(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, "drain", second.Name)
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	errBoom := &TransientError{Op: "test", Err: context.DeadlineExceeded}

	err := s.Transaction(ctx, func(tx *Tx) error {
		if setErr := s.SetFlag(ctx, tx, FlagPaused); setErr != nil {
			return setErr
		}

		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	set, err := s.IsFlagSet(ctx, FlagPaused)
	require.NoError(t, err)
	require.False(t, set, "flag set inside a rolled-back transaction must not persist")
}
