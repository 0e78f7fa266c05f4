package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/signalbus"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/translator"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/watcher"
)

type watchHandle struct {
	dir    SyncDir
	cancel context.CancelFunc
	done   chan struct{}
}

// RunWatch runs continuous sync: cleanup, persistent watcher
// subscriptions feeding the translator, and the executor's dispatch
// loop, until ctx is canceled or a drain signal is received. On return
// it has waited up to the configured shutdown timeout for in-flight
// jobs; jobs still PROCESSING past that window are abandoned and reset
// to PENDING on the next startup's cleanup pass.
func (e *Engine) RunWatch(ctx context.Context) error {
	if _, err := e.cleanupOrphaned(ctx); err != nil {
		return err
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	handles := make(map[string]*watchHandle)

	for _, d := range e.syncDirs {
		h, err := e.startWatch(watchCtx, d)
		if err != nil {
			cancelWatch()
			e.stopAll(handles)

			return fmt.Errorf("engine: starting watcher for %s: %w", d.Local, err)
		}

		handles[d.Local] = h
	}

	busCtx, cancelBus := context.WithCancel(ctx)
	busDone := make(chan struct{})

	go func() {
		_ = e.bus.Run(busCtx)
		close(busDone)
	}()

	execCtx, cancelExec := context.WithCancel(ctx)
	execDone := make(chan struct{})

	go func() {
		_ = e.exec.Run(execCtx)
		close(execDone)
	}()

	// Drain per-job results so executor workers never block on a full
	// results channel; bookkeeping is read from exec.Stats() instead.
	go func() {
		for range e.exec.Results() { //nolint:revive // discard
		}
	}()

	e.logger.Info("watch mode starting", slog.Int("sync_dirs", len(handles)))

	e.watchLoop(ctx, watchCtx, handles)

	e.logger.Info("watch mode stopping")

	cancelWatch()
	e.stopAll(handles)

	cancelExec()
	e.waitShutdown(execDone)

	cancelBus()
	<-busDone

	e.logger.Info("watch mode stopped")

	return nil
}

// watchLoop is the main select loop: it applies pause/resume/drain
// signals and config hot-reload until ctx is done or a drain is
// requested.
func (e *Engine) watchLoop(ctx, watchCtx context.Context, handles map[string]*watchHandle) {
	pauseCh := e.bus.Subscribe(ctx, signalbus.SignalPause)
	resumeCh := e.bus.Subscribe(ctx, signalbus.SignalResume)
	drainCh := e.bus.Subscribe(ctx, signalbus.SignalDrain)

	for {
		select {
		case <-ctx.Done():
			return

		case <-pauseCh:
			if err := e.flags.SetPaused(ctx, true); err != nil {
				e.logger.Error("engine: failed to set paused flag", slog.Any("error", err))
			} else {
				e.logger.Info("sync paused")
			}

		case <-resumeCh:
			if err := e.flags.SetPaused(ctx, false); err != nil {
				e.logger.Error("engine: failed to clear paused flag", slog.Any("error", err))
			} else {
				e.logger.Info("sync resumed")
			}

		case <-drainCh:
			if err := e.flags.RequestDrain(ctx, true); err != nil {
				e.logger.Error("engine: failed to set drain flag", slog.Any("error", err))
			}

			e.logger.Info("drain requested, stopping watch mode")

			return

		case change, ok := <-e.cfg.ConfigChanges:
			if !ok {
				// Channel closed: disable this case by replacing it with a
				// nil channel, which blocks forever and is never selected.
				e.cfg.ConfigChanges = nil
				continue
			}

			e.applyConfigChange(ctx, watchCtx, change, handles)
		}
	}
}

// applyConfigChange resizes the executor pool and/or reconciles the set
// of active watchers against a new sync-dirs list, per spec.md §4.7's
// hot-reload contract.
func (e *Engine) applyConfigChange(ctx, watchCtx context.Context, change ConfigChange, handles map[string]*watchHandle) {
	if change.SyncConcurrency != nil {
		e.exec.Resize(*change.SyncConcurrency)
		e.logger.Info("applied sync_concurrency reload", slog.Int("concurrency", *change.SyncConcurrency))
	}

	if change.SyncDirs == nil {
		return
	}

	e.mu.Lock()
	e.syncDirs = append([]SyncDir(nil), change.SyncDirs...)

	for _, d := range e.syncDirs {
		if _, ok := e.translators[d.Local]; !ok {
			e.translators[d.Local] = newTranslatorFor(e.store, e.logger, d)
		}
	}
	e.mu.Unlock()

	keep := make(map[string]bool, len(change.SyncDirs))
	for _, d := range change.SyncDirs {
		keep[d.Local] = true
	}

	for local, h := range handles {
		if !keep[local] {
			h.cancel()
			<-h.done
			delete(handles, local)

			e.mu.Lock()
			delete(e.translators, local)
			e.mu.Unlock()
		}
	}

	for _, d := range change.SyncDirs {
		if _, ok := handles[d.Local]; ok {
			continue
		}

		h, err := e.startWatch(watchCtx, d)
		if err != nil {
			e.logger.Error("engine: failed to start watcher for reloaded sync dir",
				slog.String("dir", d.Local), slog.Any("error", err))

			continue
		}

		handles[d.Local] = h
	}

	if _, err := e.cleanupOrphaned(ctx); err != nil {
		e.logger.Error("engine: cleanup after sync_dirs reload failed", slog.Any("error", err))
	}

	e.logger.Info("applied sync_dirs reload", slog.Int("sync_dirs", len(change.SyncDirs)))
}

func (e *Engine) stopAll(handles map[string]*watchHandle) {
	for _, h := range handles {
		h.cancel()
	}

	for _, h := range handles {
		<-h.done
	}
}

// waitShutdown waits for done, up to the engine's configured shutdown
// timeout. Jobs still in flight past that window are abandoned: their
// rows remain PROCESSING and are reset on the next startup's cleanup.
func (e *Engine) waitShutdown(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownTimeout):
		e.logger.Warn("shutdown timeout exceeded, abandoning in-flight jobs",
			slog.Duration("timeout", e.cfg.ShutdownTimeout))
	}
}

// startWatch starts a watcher on d.Local and a goroutine that debounces
// its events into batches fed to d's translator.
func (e *Engine) startWatch(ctx context.Context, d SyncDir) (*watchHandle, error) {
	w := e.cfg.NewWatcher(e.logger)

	dirCtx, cancel := context.WithCancel(ctx)

	events, err := w.Watch(dirCtx, d.Local)
	if err != nil {
		cancel()
		return nil, err
	}

	tr := e.translatorFor(d)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer w.Close()

		batchAndTranslate(dirCtx, events, tr, e.cfg.Debounce, e.logger)
	}()

	return &watchHandle{dir: d, cancel: cancel, done: done}, nil
}

// batchAndTranslate buffers events for up to debounce since the last
// event in a burst, then flushes the batch atomically through tr.
// Translate, so observers never see a partial batch.
func batchAndTranslate(
	ctx context.Context, events <-chan watcher.Event, tr *translator.Translator, debounce time.Duration, logger *slog.Logger,
) {
	var buf []watcher.Event

	timer := time.NewTimer(debounce)
	defer timer.Stop()
	timer.Stop()

	flush := func(flushCtx context.Context) {
		if len(buf) == 0 {
			return
		}

		batch := buf
		buf = nil

		if err := tr.Translate(flushCtx, batch); err != nil {
			logger.Error("translate batch failed", slog.Any("error", err))
		}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// ctx is already canceled in this path (it's what stopped
				// the watcher), so the final flush uses a fresh context;
				// this is best-effort, matching the translator's own
				// deferred-delete flush on expiry.
				flush(context.Background())
				return
			}

			buf = append(buf, ev)
			timer.Reset(debounce)

		case <-timer.C:
			flush(ctx)

		case <-ctx.Done():
			flush(context.Background())
			return
		}
	}
}
