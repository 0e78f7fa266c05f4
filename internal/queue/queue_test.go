package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(st, logger)
}

func TestQueue_LeaseThenSucceed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, store.JobParams{EventType: store.EventCreate, LocalPath: "a.txt", RemotePath: "a.txt"}, false)
	require.NoError(t, err)

	job, err := q.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	second, err := q.Lease(ctx)
	require.NoError(t, err)
	require.Nil(t, second, "leased job must not be dispatched twice")

	require.NoError(t, q.Succeed(ctx, nil, job.ID))
}

func TestQueue_FailSchedulesRetryUntilBlocked(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, store.JobParams{EventType: store.EventCreate, LocalPath: "a.txt", RemotePath: "a.txt"}, false)
	require.NoError(t, err)

	job, err := q.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	// "quota exceeded" matches no NETWORK/REUPLOAD_NEEDED substring, so
	// this is classified OTHER, which has a finite retry ceiling.
	execErr := errors.New("remote rejected: quota exceeded")

	attempts := MaxRetries(CategoryOther)
	for i := 0; i < attempts; i++ {
		require.NoError(t, q.Fail(ctx, job, execErr))

		got, getErr := q.store.GetJob(ctx, job.ID)
		require.NoError(t, getErr)

		if i < attempts-1 {
			require.Equal(t, store.StatusPending, got.Status)
		}

		job = got
	}

	final, err := q.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusBlocked, final.Status)
	require.Contains(t, final.LastError, "quota exceeded")
}

// TestQueue_NetworkFailuresRetryForeverWithCappedDelay is scenario 4 of
// spec §8: a NETWORK-classified failure never transitions to BLOCKED,
// and the retry delay it schedules stops growing past nRetries==5.
func TestQueue_NetworkFailuresRetryForeverWithCappedDelay(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, store.JobParams{EventType: store.EventCreate, LocalPath: "a.txt", RemotePath: "a.txt"}, false)
	require.NoError(t, err)

	job, err := q.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	execErr := errors.New("ECONNRESET")

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Fail(ctx, job, execErr))

		job, err = q.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, store.StatusPending, job.Status, "NETWORK failures must never block")
	}

	require.LessOrEqual(t, job.NRetries, 5, "n_retries must be capped so the delay stops growing")

	delta := job.RetryAt.Sub(q.now())
	require.LessOrEqual(t, delta.Seconds(), 256*1.25, "capped delay must not exceed 256s plus jitter")
}

func TestClassify_NetworkVsOther(t *testing.T) {
	c := DefaultClassifier{}

	require.Equal(t, CategoryNetwork, c.Classify(errors.New("dial tcp: i/o timeout")))
	require.Equal(t, CategoryReuploadNeeded, c.Classify(errors.New("upload session expired")))
	require.Equal(t, CategoryOther, c.Classify(errors.New("permission denied")))
}

func TestNextDelay_WithinJitterBounds(t *testing.T) {
	d := NextDelay(CategoryOther, 1)
	require.GreaterOrEqual(t, d.Seconds(), 0.75)
	require.LessOrEqual(t, d.Seconds(), 1.25)
}
