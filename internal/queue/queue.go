// Package queue implements the Job Queue: durable job lifecycle
// operations layered on internal/store, plus error classification and
// exponential-backoff retry scheduling.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/remote"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
)

// Queue wraps a Store with the retry/backoff policy needed to move a job
// through PENDING -> PROCESSING -> (SYNCED | PENDING-with-backoff |
// BLOCKED).
type Queue struct {
	store      *store.Store
	logger     *slog.Logger
	classifier Classifier
	now        func() time.Time
}

// New returns a Queue backed by st, classifying failures with
// DefaultClassifier.
func New(st *store.Store, logger *slog.Logger) *Queue {
	return &Queue{store: st, logger: logger, classifier: DefaultClassifier{}, now: time.Now}
}

// Enqueue upserts a PENDING job for params, a thin pass-through to the
// store so callers outside internal/store don't import it just for this.
func (q *Queue) Enqueue(ctx context.Context, params store.JobParams, dryRun bool) (*store.SyncJob, error) {
	return q.store.EnqueueJob(ctx, nil, params, dryRun)
}

// Lease returns the next due PENDING job, already transitioned to
// PROCESSING, or (nil, nil) if none is due. Lease and the transition are
// not atomic across the peek-then-lease gap, so a second caller racing
// on the same row simply loses the LeaseJob CAS and gets (nil, nil).
func (q *Queue) Lease(ctx context.Context) (*store.SyncJob, error) {
	job, err := q.store.GetNextPendingJob(ctx)
	if err != nil || job == nil {
		return nil, err
	}

	leased, err := q.store.LeaseJob(ctx, nil, job.ID)
	if err != nil {
		return nil, err
	}

	if !leased {
		return nil, nil //nolint:nilnil // another caller won the race; caller retries on its next tick
	}

	return job, nil
}

// Succeed marks a leased job SYNCED.
func (q *Queue) Succeed(ctx context.Context, tx *store.Tx, id int64) error {
	return q.store.MarkJobSynced(ctx, tx, id)
}

// Transaction runs fn against a single store transaction, committing only
// if fn returns nil. Used by the executor to commit a job's node-mapping
// update, hash write, and SYNCED transition atomically, so a crash
// mid-completion leaves the job PENDING and retriable rather than
// partially applied.
func (q *Queue) Transaction(ctx context.Context, fn func(tx *store.Tx) error) error {
	return q.store.Transaction(ctx, fn)
}

// Classify exposes the configured Classifier to callers (the executor)
// that need to branch on a failure's category before deciding how to
// retry it — e.g. REUPLOAD_NEEDED self-healing after two attempts.
func (q *Queue) Classify(err error) Category {
	return q.classifier.Classify(err)
}

// Fail records a job execution failure: classifies err, and either
// schedules a backed-off retry or blocks the job permanently once its
// category's retry ceiling is reached. NETWORK failures never block
// (spec: retried forever); their stored n_retries is capped so the
// backoff delay stops growing without ever reaching BLOCKED.
func (q *Queue) Fail(ctx context.Context, job *store.SyncJob, execErr error) error {
	category := q.classifier.Classify(execErr)
	nRetries := job.NRetries + 1

	if max := MaxRetries(category); max != unboundedRetries && nRetries >= max {
		q.logger.Warn("job blocked after exhausting retries",
			slog.Int64("id", job.ID),
			slog.String("local_path", job.LocalPath),
			slog.String("category", string(category)),
			slog.Int("n_retries", job.NRetries),
			slog.String("error", execErr.Error()),
		)

		return q.store.MarkJobBlocked(ctx, nil, job.ID, execErr.Error())
	}

	storedRetries := CappedRetries(category, nRetries)
	delay := NextDelay(category, storedRetries)
	retryAt := q.now().Add(delay).UnixNano()

	q.logger.Info("job scheduled for retry",
		slog.Int64("id", job.ID),
		slog.String("local_path", job.LocalPath),
		slog.String("category", string(category)),
		slog.Int("n_retries", storedRetries),
		slog.Duration("delay", delay),
	)

	return q.store.ScheduleRetry(ctx, nil, job.ID, storedRetries, execErr.Error(), retryAt)
}

// ResetOrphaned resets every PROCESSING job back to PENDING, for
// crash-recovery at startup.
func (q *Queue) ResetOrphaned(ctx context.Context) (int64, error) {
	return q.store.ResetProcessingJobs(ctx)
}

// StoreNodeMapping records the node identity returned by a successful
// remote create, so later UPDATE/DELETE/RENAME/MOVE jobs for the same
// path can look up its remote UID. tx may be nil to run standalone.
func (q *Queue) StoreNodeMapping(ctx context.Context, tx *store.Tx, job *store.SyncJob, node *remote.Node, isDir bool) error {
	return q.store.SetNodeMapping(ctx, tx, store.NodeMapping{
		LocalPath:   job.LocalPath,
		RemotePath:  job.RemotePath,
		NodeUID:     node.UID,
		IsDirectory: isDir,
	})
}

// LookupNodeMapping returns the node mapping for localPath, or (nil,
// nil) if the path has never successfully synced. tx may be nil to read
// against the pool.
func (q *Queue) LookupNodeMapping(ctx context.Context, tx *store.Tx, localPath string) (*store.NodeMapping, error) {
	return q.store.GetNodeMappingByLocalPath(ctx, tx, localPath)
}

// ForgetNodeMapping removes the node mapping for localPath after a
// successful remote delete. tx may be nil to run standalone.
func (q *Queue) ForgetNodeMapping(ctx context.Context, tx *store.Tx, localPath string) error {
	return q.store.DeleteNodeMapping(ctx, tx, localPath)
}

// RenameNodeMapping re-keys a node mapping after a successful remote
// rename or move. tx may be nil to run standalone.
func (q *Queue) RenameNodeMapping(ctx context.Context, tx *store.Tx, oldLocalPath, oldRemotePath, newLocalPath, newRemotePath string) error {
	return q.store.UpdateNodeMappingPath(ctx, tx, oldLocalPath, oldRemotePath, newLocalPath, newRemotePath)
}

// RecordSyncedHash records the content hash that was just synced for
// localPath, so the translator can suppress a later WRITE event that
// round-trips to the same bytes. tx may be nil to run standalone.
func (q *Queue) RecordSyncedHash(ctx context.Context, tx *store.Tx, localPath, contentHash string) error {
	if contentHash == "" {
		return nil
	}

	return q.store.SetFileHash(ctx, tx, localPath, contentHash)
}

// ForgetHash removes the recorded content hash for localPath. Used when
// a rename/move relocates a file's synced hash to its new path so the
// old path doesn't retain a stale entry.
func (q *Queue) ForgetHash(ctx context.Context, tx *store.Tx, localPath string) error {
	return q.store.DeleteFileHash(ctx, tx, localPath)
}
