// Package engine wires the Watcher, Change Translator, Job Queue, and
// Job Executor into the two top-level entry points a daemon needs:
// RunOnce (one-shot drain) and RunWatch (continuous). It also owns
// startup crash-recovery cleanup and pause/resume/drain handling via
// the Flag Registry and Signal Bus.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/executor"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/flags"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/queue"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/remote"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/signalbus"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/translator"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/watcher"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	defaultPollInterval    = 100 * time.Millisecond
	defaultDebounce        = 200 * time.Millisecond
	drainPollInterval      = 100 * time.Millisecond
)

// SyncDir is one configured local directory tree to mirror, and the
// remote path prefix (possibly empty) it mirrors under.
type SyncDir struct {
	Local      string
	RemoteRoot string
}

// ConfigChange is a hot-reloadable subset of the daemon configuration.
// Engine subscribes to a channel of these in RunWatch; a nil field means
// "unchanged".
type ConfigChange struct {
	SyncConcurrency *int
	SyncDirs        []SyncDir
}

// Config holds everything NewEngine needs: the shared persistence and
// remote collaborators, plus the daemon's sync configuration.
type Config struct {
	Store  *store.Store
	Client remote.Client
	Logger *slog.Logger

	// NewWatcher constructs one watcher instance per configured sync
	// directory. Each instance's Watch is called exactly once.
	NewWatcher func(logger *slog.Logger) watcher.Watcher

	SyncDirs        []SyncDir
	SyncConcurrency int
	PollInterval    time.Duration
	Debounce        time.Duration
	ShutdownTimeout time.Duration
	DryRun          bool

	// ConfigChanges, if non-nil, is consulted by RunWatch for hot-reload
	// of concurrency and sync directories.
	ConfigChanges <-chan ConfigChange
}

// Report summarizes one RunOnce call.
type Report struct {
	Succeeded     int64
	Failed        int64
	Errors        []string
	DroppedErrors int64
}

// CleanupStats reports the rows touched by startup crash-recovery.
type CleanupStats struct {
	OrphanedJobsReset int64
	HashesPruned      int64
	MappingsPruned    int64
}

// Engine orchestrates the watcher -> translator -> queue -> executor
// pipeline for a configured set of sync directories.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	store    *store.Store
	queue    *queue.Queue
	exec     *executor.Executor
	flags    *flags.Registry
	bus      *signalbus.Bus
	syncDirs []SyncDir

	mu          sync.Mutex
	translators map[string]*translator.Translator // keyed by SyncDir.Local
}

// NewEngine wires an Engine from cfg. The returned Engine owns none of
// cfg.Store's lifecycle; callers close the store themselves.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine: Store is required")
	}

	if cfg.Client == nil {
		return nil, errors.New("engine: Client is required")
	}

	if cfg.NewWatcher == nil {
		return nil, errors.New("engine: NewWatcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.SyncConcurrency < 1 {
		cfg.SyncConcurrency = 1
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	q := queue.New(cfg.Store, logger)
	exec := executor.New(q, cfg.Client, logger, cfg.SyncConcurrency, cfg.DryRun, cfg.PollInterval)
	reg := flags.New(cfg.Store)

	exec.SetPauseCheck(func(ctx context.Context) (bool, error) {
		return reg.Paused(ctx)
	})

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		store:       cfg.Store,
		queue:       q,
		exec:        exec,
		flags:       reg,
		bus:         signalbus.New(cfg.Store, logger),
		syncDirs:    append([]SyncDir(nil), cfg.SyncDirs...),
		translators: make(map[string]*translator.Translator),
	}

	for _, d := range e.syncDirs {
		e.translators[d.Local] = newTranslatorFor(cfg.Store, logger, d)
	}

	return e, nil
}

func newTranslatorFor(st *store.Store, logger *slog.Logger, d SyncDir) *translator.Translator {
	return translator.New(st, logger, d.Local, d.RemoteRoot, filepath.Base(d.Local))
}

// Close releases engine-owned resources. The store itself is caller-owned.
func (e *Engine) Close() error {
	return nil
}

// cleanupOrphaned resets crashed PROCESSING jobs to PENDING and prunes
// clocks, hashes, and node mappings that fall outside the currently
// configured sync directories.
func (e *Engine) cleanupOrphaned(ctx context.Context) (*CleanupStats, error) {
	stats := &CleanupStats{}

	reset, err := e.queue.ResetOrphaned(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: reset orphaned jobs: %w", err)
	}

	stats.OrphanedJobsReset = reset

	if reset > 0 {
		e.logger.Info("crash recovery: reset orphaned jobs", slog.Int64("count", reset))
	}

	roots := e.localRoots()

	if err := e.store.DeleteClocksNotIn(ctx, nil, roots); err != nil {
		return nil, fmt.Errorf("engine: prune clocks: %w", err)
	}

	prunedHashes, err := e.store.DeleteFileHashesOutsideRoots(ctx, nil, roots)
	if err != nil {
		return nil, fmt.Errorf("engine: prune file hashes: %w", err)
	}

	stats.HashesPruned = prunedHashes

	prunedMappings, err := e.store.DeleteNodeMappingsOutsideRoots(ctx, nil, roots)
	if err != nil {
		return nil, fmt.Errorf("engine: prune node mappings: %w", err)
	}

	stats.MappingsPruned = prunedMappings

	if prunedHashes > 0 || prunedMappings > 0 {
		e.logger.Info("crash recovery: pruned rows outside configured roots",
			slog.Int64("hashes", prunedHashes), slog.Int64("mappings", prunedMappings))
	}

	return stats, nil
}

func (e *Engine) localRoots() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	roots := make([]string, len(e.syncDirs))
	for i, d := range e.syncDirs {
		roots[i] = d.Local
	}

	return roots
}

// RunOnce performs a one-shot drain sync: cleanup, a full local tree scan
// through the translator, then running the executor until the job queue
// is empty.
func (e *Engine) RunOnce(ctx context.Context) (*Report, error) {
	if _, err := e.cleanupOrphaned(ctx); err != nil {
		return nil, err
	}

	for _, d := range e.syncDirs {
		if err := e.scanInitial(ctx, d); err != nil {
			return nil, fmt.Errorf("engine: initial scan of %s: %w", d.Local, err)
		}
	}

	execCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		_ = e.exec.Run(execCtx)
		close(done)
	}()

	// Drain per-job results so executor workers never block on a full
	// results channel; bookkeeping is read from exec.Stats() instead.
	go func() {
		for range e.exec.Results() { //nolint:revive // discard
		}
	}()

	if err := e.waitForDrain(ctx); err != nil {
		cancel()
		<-done

		return nil, err
	}

	cancel()
	<-done

	succeeded, failed, errs, dropped := e.exec.Stats()

	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}

	return &Report{Succeeded: succeeded, Failed: failed, Errors: msgs, DroppedErrors: dropped}, nil
}

// waitForDrain blocks until neither a PENDING nor a PROCESSING job
// remains, i.e. the pending-job set and the active-task set are both
// empty.
func (e *Engine) waitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			empty, err := e.queueIsEmpty(ctx)
			if err != nil {
				return err
			}

			if empty {
				return nil
			}
		}
	}
}

func (e *Engine) queueIsEmpty(ctx context.Context) (bool, error) {
	pending, err := e.store.ListJobsByStatus(ctx, store.StatusPending)
	if err != nil {
		return false, err
	}

	if len(pending) > 0 {
		return false, nil
	}

	processing, err := e.store.ListJobsByStatus(ctx, store.StatusProcessing)
	if err != nil {
		return false, err
	}

	return len(processing) == 0, nil
}

// scanInitial walks d.Local and synthesizes watcher events for every
// entry not already known to be in sync, feeding them through this
// directory's translator. A file whose recorded hash already matches its
// current content is considered synced and skipped; everything else
// becomes a CREATE (fresh paths) or WRITE (paths with an existing node
// mapping, so the translator emits an UPDATE instead of trying to
// re-create an already-existing remote node).
func (e *Engine) scanInitial(ctx context.Context, d SyncDir) error {
	tr := e.translatorFor(d)

	var events []watcher.Event

	walkErr := filepath.WalkDir(d.Local, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == d.Local {
			return nil
		}

		relPath, relErr := filepath.Rel(d.Local, path)
		if relErr != nil {
			return relErr
		}

		relPath = filepath.ToSlash(relPath)

		ev, evErr := e.scanEntry(ctx, path, relPath, entry)
		if evErr != nil {
			return evErr
		}

		if ev != nil {
			events = append(events, *ev)
		}

		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	return tr.Translate(ctx, events)
}

func (e *Engine) scanEntry(ctx context.Context, fsPath, relPath string, entry fs.DirEntry) (*watcher.Event, error) {
	info, err := entry.Info()
	if err != nil {
		return nil, err
	}

	ino, _ := inode(info)

	if entry.IsDir() {
		mapping, lookupErr := e.store.GetNodeMappingByLocalPath(ctx, nil, fsPath)
		if lookupErr != nil {
			return nil, lookupErr
		}

		if mapping != nil {
			return nil, nil
		}

		return &watcher.Event{Kind: watcher.EventCreate, Path: relPath, IsDir: true, Ino: ino}, nil
	}

	hash, err := hashFile(fsPath)
	if err != nil {
		return nil, err
	}

	lastHash, err := e.store.GetFileHash(ctx, nil, fsPath)
	if err != nil {
		return nil, err
	}

	if lastHash == hash {
		return nil, nil
	}

	mapping, err := e.store.GetNodeMappingByLocalPath(ctx, nil, fsPath)
	if err != nil {
		return nil, err
	}

	kind := watcher.EventCreate
	if mapping != nil {
		kind = watcher.EventWrite
	}

	return &watcher.Event{Kind: kind, Path: relPath, Ino: ino, ContentHash: hash}, nil
}

func (e *Engine) translatorFor(d SyncDir) *translator.Translator {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.translators[d.Local]
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func inode(info os.FileInfo) (uint64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, errors.New("engine: inode not available on this platform")
	}

	return stat.Ino, nil
}
