// Package executor runs due sync jobs against a remote.Client with
// bounded, live-resizable concurrency.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/queue"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/remote"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
)

const maxRecordedErrors = 1000

// reuploadSelfHealThreshold is the attempt count (spec: nRetries >= 2,
// i.e. the third execution) at which a REUPLOAD_NEEDED failure triggers
// a DELETE+CREATE self-heal instead of a plain retry.
const reuploadSelfHealThreshold = 2

// defaultPollInterval is how often the dispatch loop checks for due
// jobs, used when New is given a zero pollInterval.
const defaultPollInterval = 100 * time.Millisecond

var errUnknownEventType = errors.New("executor: unknown job event type")

// Result reports the outcome of a single job execution.
type Result struct {
	JobID   int64
	Path    string
	Success bool
	ErrMsg  string
}

// Executor dispatches due jobs from a queue.Queue to a remote.Client,
// bounding concurrency with a live-resizable semaphore.
type Executor struct {
	queue  *queue.Queue
	client remote.Client
	logger *slog.Logger
	dryRun bool

	sem    *semaphore.Weighted
	curMu  sync.Mutex
	curCap int64

	pollInterval time.Duration
	pauseCheck   func(ctx context.Context) (bool, error)

	succeeded     atomic.Int64
	failed        atomic.Int64
	errorsMu      sync.Mutex
	errors        []error
	droppedErrors atomic.Int64

	results chan Result
	wg      sync.WaitGroup
}

// New returns an Executor with initial concurrency n, polling the queue
// for due jobs every pollInterval (a zero value uses defaultPollInterval).
func New(q *queue.Queue, client remote.Client, logger *slog.Logger, n int, dryRun bool, pollInterval time.Duration) *Executor {
	if n < 1 {
		n = 1
	}

	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Executor{
		queue:        q,
		client:       client,
		logger:       logger,
		dryRun:       dryRun,
		sem:          semaphore.NewWeighted(int64(n)),
		curCap:       int64(n),
		pollInterval: pollInterval,
		results:      make(chan Result, 256),
	}
}

// Resize changes the maximum in-flight job count. Jobs already running
// are unaffected; the new cap takes effect for future dispatch.
func (e *Executor) Resize(n int) {
	if n < 1 {
		n = 1
	}

	e.curMu.Lock()
	defer e.curMu.Unlock()

	delta := int64(n) - e.curCap
	e.curCap = int64(n)

	switch {
	case delta > 0:
		e.sem.Release(delta)
	case delta < 0:
		// Best effort: acquire the shrink amount so fewer slots are
		// available going forward; if workers are mid-flight this simply
		// delays the effect until they release, which is acceptable for
		// a live-resize knob.
		go func() { _ = e.sem.Acquire(context.Background(), -delta) }()
	}
}

// SetPauseCheck installs a callback consulted on every dispatch tick; while
// it reports true, the tick is skipped (no job is leased) but the ticker
// itself keeps running, matching the spec's "continues heartbeating"
// pause semantics. A nil check (the default) never pauses.
func (e *Executor) SetPauseCheck(fn func(ctx context.Context) (bool, error)) {
	e.pauseCheck = fn
}

// Results returns the channel of per-job outcomes.
func (e *Executor) Results() <-chan Result {
	return e.results
}

// Run drives the dispatch loop: lease a due job, acquire a semaphore
// slot, and execute it in its own goroutine, until ctx is canceled. Run
// blocks until every in-flight job has finished after ctx is canceled.
func (e *Executor) Run(ctx context.Context) error {
	defer close(e.results)
	defer e.wg.Wait()

	if e.dryRun {
		e.logger.Info("executor running in dry-run mode, dispatch disabled")
		<-ctx.Done()

		return nil
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.dispatchAvailable(ctx)
		}
	}
}

func (e *Executor) dispatchAvailable(ctx context.Context) {
	if e.pauseCheck != nil {
		paused, err := e.pauseCheck(ctx)
		if err != nil {
			e.logger.Error("executor: pause check failed", slog.Any("error", err))
		} else if paused {
			return
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if !e.sem.TryAcquire(1) {
			return
		}

		job, err := e.queue.Lease(ctx)
		if err != nil {
			e.sem.Release(1)
			e.logger.Error("executor: lease failed", slog.Any("error", err))

			return
		}

		if job == nil {
			e.sem.Release(1)
			return
		}

		e.wg.Add(1)

		go e.runJob(ctx, job)
	}
}

func (e *Executor) runJob(ctx context.Context, job *store.SyncJob) {
	defer e.wg.Done()
	defer e.sem.Release(1)
	defer e.safeguard(job)

	err := e.execute(ctx, job)

	if err != nil && e.queue.Classify(err) == queue.CategoryReuploadNeeded && job.NRetries >= reuploadSelfHealThreshold {
		if healErr := e.selfHeal(ctx, job); healErr != nil {
			// The recovery attempt itself failed: downgrade this failure
			// to OTHER so it is rescheduled as a standard retry. A later
			// REUPLOAD_NEEDED failure of the same job self-heals again.
			err = &queue.DowngradedError{Err: healErr}
		} else {
			e.reportSuccess(ctx, job)
			return
		}
	}

	if err != nil {
		e.recordFailure(err)
		e.sendResult(ctx, job, false, err.Error())

		if failErr := e.queue.Fail(ctx, job, err); failErr != nil {
			e.logger.Error("executor: failed to record job failure",
				slog.Int64("id", job.ID), slog.Any("error", failErr))
		}

		return
	}

	e.reportSuccess(ctx, job)
}

// reportSuccess updates in-process counters and publishes the result for
// a job whose terminal transaction (node-mapping/hash write and the
// SYNCED transition) has already been committed by execute itself.
func (e *Executor) reportSuccess(ctx context.Context, job *store.SyncJob) {
	e.succeeded.Add(1)
	e.sendResult(ctx, job, true, "")
}

// selfHeal implements the REUPLOAD_NEEDED recovery path (spec §4.6,
// §7): the cached node identity is presumed stale, so it is deleted
// remotely (best effort — the remote may already consider it gone) and
// forgotten locally, then a fresh CREATE is issued at the job's current
// path. The node mapping that results carries the new node UID.
func (e *Executor) selfHeal(ctx context.Context, job *store.SyncJob) error {
	staleLocalPath := job.LocalPath
	if job.IsRenameOrMove() {
		staleLocalPath = job.OldLocalPath
	}

	if mapping, err := e.queue.LookupNodeMapping(ctx, nil, staleLocalPath); err == nil && mapping != nil {
		if delErr := e.client.Delete(ctx, mapping.NodeUID); delErr != nil {
			e.logger.Debug("self-heal: remote delete of stale node failed, proceeding anyway",
				slog.Int64("id", job.ID), slog.Any("error", delErr))
		}

		if forgetErr := e.queue.ForgetNodeMapping(ctx, nil, staleLocalPath); forgetErr != nil {
			return forgetErr
		}
	}

	e.logger.Info("self-healing job via delete+create", slog.Int64("id", job.ID), slog.String("local_path", job.LocalPath))

	return e.executeCreate(ctx, job)
}

// safeguard recovers a panicking job execution so one bad job never
// takes down the whole process, mirroring the panic-recovery wrapper
// every worker in the execution path is given.
func (e *Executor) safeguard(job *store.SyncJob) {
	if r := recover(); r != nil {
		e.logger.Error("executor: panic during job execution",
			slog.Int64("id", job.ID), slog.Any("panic", r))
		e.recordFailure(fmt.Errorf("panic: %v", r))
	}
}

func (e *Executor) execute(ctx context.Context, job *store.SyncJob) error {
	switch job.EventType {
	case store.EventCreate:
		return e.executeCreate(ctx, job)
	case store.EventUpdate:
		return e.executeUpdate(ctx, job)
	case store.EventDelete:
		return e.executeDelete(ctx, job)
	case store.EventRename:
		return e.executeRename(ctx, job)
	case store.EventMove:
		return e.executeMove(ctx, job)
	default:
		return fmt.Errorf("%w: %q", errUnknownEventType, job.EventType)
	}
}

func (e *Executor) executeCreate(ctx context.Context, job *store.SyncJob) error {
	f, err := os.Open(job.LocalPath)
	if err != nil {
		return fmt.Errorf("executor: opening %s: %w", job.LocalPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("executor: stat %s: %w", job.LocalPath, err)
	}

	var node *remote.Node

	if info.IsDir() {
		node, err = e.client.CreateFolder(ctx, job.RemotePath, "")
	} else {
		node, err = e.client.CreateFile(ctx, job.RemotePath, "", f)
	}

	if err != nil {
		return fmt.Errorf("executor: creating %s: %w", job.RemotePath, err)
	}

	isDir := info.IsDir()

	return e.queue.Transaction(ctx, func(tx *store.Tx) error {
		if err := e.queue.StoreNodeMapping(ctx, tx, job, node, isDir); err != nil {
			return err
		}

		if err := e.queue.RecordSyncedHash(ctx, tx, job.LocalPath, job.ContentHash); err != nil {
			return err
		}

		return e.queue.Succeed(ctx, tx, job.ID)
	})
}

func (e *Executor) executeUpdate(ctx context.Context, job *store.SyncJob) error {
	mapping, err := e.queue.LookupNodeMapping(ctx, nil, job.LocalPath)
	if err != nil {
		return err
	}

	if mapping == nil {
		return e.executeCreate(ctx, job)
	}

	f, err := os.Open(job.LocalPath)
	if err != nil {
		return fmt.Errorf("executor: opening %s: %w", job.LocalPath, err)
	}
	defer f.Close()

	if _, err := e.client.UpdateFile(ctx, mapping.NodeUID, f); err != nil {
		return fmt.Errorf("executor: updating %s: %w", job.RemotePath, err)
	}

	return e.queue.Transaction(ctx, func(tx *store.Tx) error {
		if err := e.queue.RecordSyncedHash(ctx, tx, job.LocalPath, job.ContentHash); err != nil {
			return err
		}

		return e.queue.Succeed(ctx, tx, job.ID)
	})
}

func (e *Executor) executeDelete(ctx context.Context, job *store.SyncJob) error {
	mapping, err := e.queue.LookupNodeMapping(ctx, nil, job.LocalPath)
	if err != nil {
		return err
	}

	if mapping == nil {
		// Never synced in the first place; nothing to delete remotely.
		return e.queue.Transaction(ctx, func(tx *store.Tx) error {
			return e.queue.Succeed(ctx, tx, job.ID)
		})
	}

	if err := e.client.Delete(ctx, mapping.NodeUID); err != nil {
		return fmt.Errorf("executor: deleting %s: %w", job.RemotePath, err)
	}

	return e.queue.Transaction(ctx, func(tx *store.Tx) error {
		if err := e.queue.ForgetNodeMapping(ctx, tx, job.LocalPath); err != nil {
			return err
		}

		return e.queue.Succeed(ctx, tx, job.ID)
	})
}

func (e *Executor) executeRename(ctx context.Context, job *store.SyncJob) error {
	mapping, err := e.queue.LookupNodeMapping(ctx, nil, job.OldLocalPath)
	if err != nil {
		return err
	}

	if mapping == nil {
		return e.executeCreate(ctx, job)
	}

	if _, err := e.client.Rename(ctx, mapping.NodeUID, job.RemotePath); err != nil {
		return fmt.Errorf("executor: renaming %s: %w", job.RemotePath, err)
	}

	return e.commitRenameOrMove(ctx, job)
}

func (e *Executor) executeMove(ctx context.Context, job *store.SyncJob) error {
	mapping, err := e.queue.LookupNodeMapping(ctx, nil, job.OldLocalPath)
	if err != nil {
		return err
	}

	if mapping == nil {
		return e.executeCreate(ctx, job)
	}

	if _, err := e.client.Move(ctx, mapping.NodeUID, "", job.RemotePath); err != nil {
		return fmt.Errorf("executor: moving %s: %w", job.RemotePath, err)
	}

	return e.commitRenameOrMove(ctx, job)
}

// commitRenameOrMove re-keys the node mapping, moves the synced content
// hash from the old path to the new one, and marks the job SYNCED, all
// in a single transaction, so a crash mid-completion leaves the job
// PENDING and retriable instead of half-applied.
func (e *Executor) commitRenameOrMove(ctx context.Context, job *store.SyncJob) error {
	return e.queue.Transaction(ctx, func(tx *store.Tx) error {
		if err := e.queue.RenameNodeMapping(ctx, tx, job.OldLocalPath, job.OldRemotePath, job.LocalPath, job.RemotePath); err != nil {
			return err
		}

		if err := e.queue.ForgetHash(ctx, tx, job.OldLocalPath); err != nil {
			return err
		}

		if err := e.queue.RecordSyncedHash(ctx, tx, job.LocalPath, job.ContentHash); err != nil {
			return err
		}

		return e.queue.Succeed(ctx, tx, job.ID)
	})
}

func (e *Executor) recordFailure(err error) {
	if err == nil {
		return
	}

	e.failed.Add(1)
	e.errorsMu.Lock()
	defer e.errorsMu.Unlock()

	if len(e.errors) >= maxRecordedErrors {
		e.droppedErrors.Add(1)
		return
	}

	e.errors = append(e.errors, err)
}

// Stats returns execution counters and the bounded diagnostic error list.
func (e *Executor) Stats() (succeeded, failed int64, errs []error, dropped int64) {
	e.errorsMu.Lock()
	defer e.errorsMu.Unlock()

	out := make([]error, len(e.errors))
	copy(out, e.errors)

	return e.succeeded.Load(), e.failed.Load(), out, e.droppedErrors.Load()
}

func (e *Executor) sendResult(ctx context.Context, job *store.SyncJob, success bool, errMsg string) {
	r := Result{JobID: job.ID, Path: job.LocalPath, Success: success, ErrMsg: errMsg}

	select {
	case e.results <- r:
	case <-ctx.Done():
	}
}
