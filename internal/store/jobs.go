package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

const jobColumns = `id, event_type, local_path, remote_path, status, retry_at,
	n_retries, last_error, content_hash, old_local_path, old_remote_path, created_at`

// sqlEnqueueJob inserts a new PENDING job, or — if an active (PENDING or
// PROCESSING) job already exists for the same (local_path, remote_path)
// key — replaces its fields and resets its retry counter ("latest wins").
const sqlEnqueueJob = `
	INSERT INTO sync_jobs (event_type, local_path, remote_path, status,
		retry_at, n_retries, last_error, content_hash, old_local_path,
		old_remote_path, created_at)
	VALUES (?, ?, ?, 'PENDING', ?, 0, NULL, ?, ?, ?, ?)
	ON CONFLICT (local_path, remote_path) WHERE status IN ('PENDING', 'PROCESSING')
	DO UPDATE SET
		event_type      = excluded.event_type,
		status          = 'PENDING',
		retry_at        = excluded.retry_at,
		n_retries       = 0,
		last_error      = NULL,
		content_hash    = excluded.content_hash,
		old_local_path  = excluded.old_local_path,
		old_remote_path = excluded.old_remote_path
	RETURNING ` + jobColumns

// EnqueueJob upserts a PENDING job for params. If dryRun is true, this is
// a no-op and returns a zero-valued job with ID 0.
func (s *Store) EnqueueJob(ctx context.Context, tx *Tx, params JobParams, dryRun bool) (*SyncJob, error) {
	if dryRun {
		return &SyncJob{}, nil
	}

	var job *SyncJob

	err := s.withTx(ctx, tx, func(t *Tx) error {
		now := s.nowNano()

		row := t.querier().QueryRowContext(ctx, sqlEnqueueJob,
			string(params.EventType), params.LocalPath, params.RemotePath,
			now, nullableString(params.ContentHash),
			nullableString(params.OldLocalPath), nullableString(params.OldRemotePath),
			now,
		)

		j, scanErr := scanJob(row)
		if scanErr != nil {
			return wrapSQLErr("enqueue job", scanErr)
		}

		job = j

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("job enqueued",
		slog.Int64("id", job.ID),
		slog.String("event_type", string(job.EventType)),
		slog.String("local_path", job.LocalPath),
	)

	return job, nil
}

const sqlGetNextPendingJob = `
	SELECT ` + jobColumns + ` FROM sync_jobs
	WHERE status = 'PENDING' AND retry_at <= ?
	ORDER BY retry_at ASC
	LIMIT 1`

// GetNextPendingJob returns the PENDING job with the smallest retry_at
// that is due (retry_at <= now). Returns (nil, nil) if none is due.
// Callers intending to execute the job should transition it to
// PROCESSING themselves (e.g. via LeaseJob) to avoid double-dispatch.
func (s *Store) GetNextPendingJob(ctx context.Context) (*SyncJob, error) {
	row := s.db.QueryRowContext(ctx, sqlGetNextPendingJob, s.nowNano())

	job, err := scanJob(row)
	if isNoRows(err) {
		return nil, nil //nolint:nilnil // nil job means "nothing due", matching GetItem-style store APIs
	}

	if err != nil {
		return nil, wrapSQLErr("get next pending job", err)
	}

	return job, nil
}

const sqlLeaseJob = `UPDATE sync_jobs SET status = 'PROCESSING' WHERE id = ? AND status = 'PENDING'`

// LeaseJob transitions a PENDING job to PROCESSING. Returns false if the
// job was not in PENDING state (already leased by another worker, or
// since completed) — the caller should skip dispatch in that case.
func (s *Store) LeaseJob(ctx context.Context, tx *Tx, id int64) (bool, error) {
	var leased bool

	err := s.withTx(ctx, tx, func(t *Tx) error {
		result, execErr := t.querier().ExecContext(ctx, sqlLeaseJob, id)
		if execErr != nil {
			return wrapSQLErr("lease job", execErr)
		}

		n, _ := result.RowsAffected()
		leased = n > 0

		return nil
	})

	return leased, err
}

const sqlMarkJobSynced = `UPDATE sync_jobs SET status = 'SYNCED' WHERE id = ?`

// MarkJobSynced transitions a job to the terminal SYNCED state.
func (s *Store) MarkJobSynced(ctx context.Context, tx *Tx, id int64) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlMarkJobSynced, id)
		return wrapSQLErr("mark job synced", err)
	})
}

const sqlMarkJobBlocked = `UPDATE sync_jobs SET status = 'BLOCKED', last_error = ? WHERE id = ?`

// MarkJobBlocked transitions a job to the terminal BLOCKED state,
// preserving lastErr for operator visibility.
func (s *Store) MarkJobBlocked(ctx context.Context, tx *Tx, id int64, lastErr string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlMarkJobBlocked, lastErr, id)
		return wrapSQLErr("mark job blocked", err)
	})
}

const sqlScheduleRetry = `UPDATE sync_jobs
	SET status = 'PENDING', retry_at = ?, n_retries = ?, last_error = ?
	WHERE id = ?`

// ScheduleRetry reschedules a job for another attempt at retryAt,
// recording the attempt count and the error that caused the retry.
func (s *Store) ScheduleRetry(
	ctx context.Context, tx *Tx, id int64, nRetries int, lastErr string, retryAt int64,
) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlScheduleRetry, retryAt, nRetries, lastErr, id)
		return wrapSQLErr("schedule retry", err)
	})
}

const sqlResetProcessingToPending = `UPDATE sync_jobs SET status = 'PENDING' WHERE status = 'PROCESSING'`

// ResetProcessingJobs resets every PROCESSING job back to PENDING. Called
// once at startup for crash recovery (spec §9: a crash mid-execution must
// never leave a job stuck in PROCESSING). Returns the number reset.
func (s *Store) ResetProcessingJobs(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, sqlResetProcessingToPending)
	if err != nil {
		return 0, wrapSQLErr("reset processing jobs", err)
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Info("reset orphaned PROCESSING jobs to PENDING", slog.Int64("count", n))
	}

	return n, nil
}

const sqlGetJob = `SELECT ` + jobColumns + ` FROM sync_jobs WHERE id = ?`

// GetJob retrieves a job by ID. Returns a *NotFoundError if absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*SyncJob, error) {
	row := s.db.QueryRowContext(ctx, sqlGetJob, id)

	job, err := scanJob(row)
	if isNoRows(err) {
		return nil, &NotFoundError{Resource: "sync_job", Key: fmt.Sprintf("%d", id)}
	}

	if err != nil {
		return nil, wrapSQLErr("get job", err)
	}

	return job, nil
}

const sqlListJobsByStatus = `SELECT ` + jobColumns + ` FROM sync_jobs WHERE status = ? ORDER BY id`

// ListJobsByStatus returns all jobs in the given status, ordered by ID.
// Used by the dashboard/status surface and by tests.
func (s *Store) ListJobsByStatus(ctx context.Context, status JobStatus) ([]*SyncJob, error) {
	rows, err := s.db.QueryContext(ctx, sqlListJobsByStatus, string(status))
	if err != nil {
		return nil, wrapSQLErr("list jobs by status", err)
	}
	defer rows.Close()

	var jobs []*SyncJob

	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, wrapSQLErr("scan job row", scanErr)
		}

		jobs = append(jobs, job)
	}

	return jobs, wrapSQLErr("iterate job rows", rows.Err())
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*SyncJob, error) {
	var (
		j             SyncJob
		eventType     string
		status        string
		retryAt       int64
		lastError     sql.NullString
		contentHash   sql.NullString
		oldLocalPath  sql.NullString
		oldRemotePath sql.NullString
		createdAt     int64
	)

	err := row.Scan(
		&j.ID, &eventType, &j.LocalPath, &j.RemotePath, &status, &retryAt,
		&j.NRetries, &lastError, &contentHash, &oldLocalPath, &oldRemotePath, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	j.EventType = EventType(eventType)
	j.Status = JobStatus(status)
	j.RetryAt = timeFromNano(retryAt)
	j.LastError = lastError.String
	j.ContentHash = contentHash.String
	j.OldLocalPath = oldLocalPath.String
	j.OldRemotePath = oldRemotePath.String
	j.CreatedAt = timeFromNano(createdAt)

	return &j, nil
}
