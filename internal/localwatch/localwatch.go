// Package localwatch implements watcher.Watcher on top of fsnotify,
// recursively watching every directory under a root and tagging each
// event with the filesystem's stable inode number so the translator can
// pair a REMOVE/CREATE pair into a rename or move.
package localwatch

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

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/watcher"
)

const (
	watchErrInitBackoff = 100 * time.Millisecond
	watchErrMaxBackoff  = 10 * time.Second
	watchErrBackoffMult = 2
)

// Watcher adapts fsnotify into watcher.Watcher, recursively registering
// watches on every directory under the configured root as it discovers
// them (fsnotify itself is not recursive).
type Watcher struct {
	logger *slog.Logger

	mu   sync.Mutex
	fsw  *fsnotify.Watcher
	root string

	inoMu sync.Mutex
	inos  map[string]uint64
}

// New returns a localwatch.Watcher. Watch must be called exactly once.
func New(logger *slog.Logger) *Watcher {
	return &Watcher{logger: logger, inos: make(map[string]uint64)}
}

// Watch implements watcher.Watcher.
func (w *Watcher) Watch(ctx context.Context, root string) (<-chan watcher.Event, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("localwatch: creating fsnotify watcher: %w", err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.root = root
	w.mu.Unlock()

	if err := addRecursive(fsw, root, w.logger); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("localwatch: registering watch on %s: %w", root, err)
	}

	out := make(chan watcher.Event, 256)

	go w.loop(ctx, fsw, root, out)

	return out, nil
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}

	return fsw.Close()
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, root string, out chan<- watcher.Event) {
	defer close(out)
	defer fsw.Close()

	backoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}

			w.handleEvent(ctx, fsw, root, ev, out)
			backoff = watchErrInitBackoff

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("filesystem watcher error", slog.String("error", err.Error()), slog.Duration("backoff", backoff))

			if !sleepCtx(ctx, backoff) {
				return
			}

			backoff *= watchErrBackoffMult
			if backoff > watchErrMaxBackoff {
				backoff = watchErrMaxBackoff
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, root string, ev fsnotify.Event, out chan<- watcher.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	relPath, err := filepath.Rel(root, ev.Name)
	if err != nil {
		w.logger.Warn("failed to compute relative path", slog.String("path", ev.Name), slog.String("error", err.Error()))
		return
	}

	normPath := norm.NFC.String(filepath.ToSlash(relPath))

	switch {
	case ev.Has(fsnotify.Create):
		w.handleCreate(ctx, fsw, ev.Name, normPath, out)

	case ev.Has(fsnotify.Write):
		w.handleWrite(ctx, ev.Name, normPath, out)

	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		ino := w.forgetInode(normPath)
		sendEvent(ctx, out, watcher.Event{Kind: watcher.EventRemove, Path: normPath, Ino: ino})
	}
}

func (w *Watcher) handleCreate(ctx context.Context, fsw *fsnotify.Watcher, fsPath, normPath string, out chan<- watcher.Event) {
	info, err := os.Stat(fsPath)
	if err != nil {
		w.logger.Debug("stat failed for created path", slog.String("path", normPath), slog.String("error", err.Error()))
		return
	}

	ino, _ := inode(info)
	w.rememberInode(normPath, ino)

	if info.IsDir() {
		if err := addRecursive(fsw, fsPath, w.logger); err != nil {
			w.logger.Warn("failed to add watch on new directory", slog.String("path", normPath), slog.String("error", err.Error()))
		}

		sendEvent(ctx, out, watcher.Event{Kind: watcher.EventCreate, Path: normPath, IsDir: true, Ino: ino})
		w.scanNewDirectory(ctx, fsw, fsPath, normPath, out)

		return
	}

	hash, err := hashFile(fsPath)
	if err != nil {
		w.logger.Warn("hash failed for new file", slog.String("path", normPath), slog.String("error", err.Error()))
		return
	}

	sendEvent(ctx, out, watcher.Event{Kind: watcher.EventCreate, Path: normPath, Ino: ino, ContentHash: hash})
}

// scanNewDirectory catches files created between a directory's own
// creation and fsnotify's watch registration on it.
func (w *Watcher) scanNewDirectory(ctx context.Context, fsw *fsnotify.Watcher, dirPath, dirRelPath string, out chan<- watcher.Event) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		w.logger.Debug("scan new directory failed", slog.String("path", dirRelPath), slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		entryName := norm.NFC.String(entry.Name())
		entryFsPath := filepath.Join(dirPath, entry.Name())
		entryRelPath := dirRelPath + "/" + entryName

		info, statErr := entry.Info()
		if statErr != nil {
			w.logger.Debug("stat failed during directory scan", slog.String("path", entryRelPath), slog.String("error", statErr.Error()))
			continue
		}

		ino, _ := inode(info)
		w.rememberInode(entryRelPath, ino)

		if entry.IsDir() {
			if addErr := fsw.Add(entryFsPath); addErr != nil {
				w.logger.Warn("failed to add watch on nested directory", slog.String("path", entryRelPath), slog.String("error", addErr.Error()))
			}

			sendEvent(ctx, out, watcher.Event{Kind: watcher.EventCreate, Path: entryRelPath, IsDir: true, Ino: ino})
			w.scanNewDirectory(ctx, fsw, entryFsPath, entryRelPath, out)

			continue
		}

		hash, hashErr := hashFile(entryFsPath)
		if hashErr != nil {
			w.logger.Warn("hash failed during directory scan", slog.String("path", entryRelPath), slog.String("error", hashErr.Error()))
			continue
		}

		sendEvent(ctx, out, watcher.Event{Kind: watcher.EventCreate, Path: entryRelPath, Ino: ino, ContentHash: hash})
	}
}

func (w *Watcher) handleWrite(ctx context.Context, fsPath, normPath string, out chan<- watcher.Event) {
	info, err := os.Stat(fsPath)
	if err != nil {
		w.logger.Debug("stat failed for modified path", slog.String("path", normPath), slog.String("error", err.Error()))
		return
	}

	if info.IsDir() {
		return
	}

	hash, err := hashFile(fsPath)
	if err != nil {
		w.logger.Warn("hash failed for modified file", slog.String("path", normPath), slog.String("error", err.Error()))
		return
	}

	ino, _ := inode(info)
	w.rememberInode(normPath, ino)

	sendEvent(ctx, out, watcher.Event{Kind: watcher.EventWrite, Path: normPath, Ino: ino, ContentHash: hash})
}

// rememberInode records path's last-known inode so a later REMOVE/Rename
// event for the same path — fired after the file is already gone and
// os.Stat can no longer resolve it — can still carry a stable ino.
func (w *Watcher) rememberInode(path string, ino uint64) {
	if ino == 0 {
		return
	}

	w.inoMu.Lock()
	w.inos[path] = ino
	w.inoMu.Unlock()
}

// forgetInode returns and clears the last-known inode for path, or 0 if
// none was recorded.
func (w *Watcher) forgetInode(path string) uint64 {
	w.inoMu.Lock()
	defer w.inoMu.Unlock()

	ino := w.inos[path]
	delete(w.inos, path)

	return ino
}

func sendEvent(ctx context.Context, out chan<- watcher.Event, ev watcher.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// addRecursive walks root and registers an fsnotify watch on it and
// every directory beneath it. fsnotify only watches a single directory
// level, so the engine must maintain this recursion itself.
func addRecursive(fsw *fsnotify.Watcher, root string, logger *slog.Logger) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if !d.IsDir() {
			return nil
		}

		if addErr := fsw.Add(p); addErr != nil {
			logger.Warn("failed to add watch", slog.String("path", p), slog.String("error", addErr.Error()))
		}

		return nil
	})
}

// inode returns the stable filesystem inode number backing info, used
// to identify a file across a rename even though its path changes.
func inode(info os.FileInfo) (uint64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, errors.New("localwatch: inode not available on this platform")
	}

	return stat.Ino, nil
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
