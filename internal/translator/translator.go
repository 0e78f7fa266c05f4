// Package translator turns raw watcher.Event observations into sync
// jobs, pairing REMOVE/CREATE event pairs that share an inode into a
// single rename or move, suppressing no-op writes via content hash
// comparison, and cascading directory deletes onto everything nested
// beneath them.
package translator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/watcher"
)

// pairWindow is how long a REMOVE waits for a matching-inode CREATE
// before it is translated as a plain DELETE. Chosen to comfortably cover
// a rename/move's two fsnotify events arriving in the same batch without
// holding deletes back long enough to delay a genuine delete's sync.
const pairWindow = 2 * time.Second

// Translator consumes batches of watcher events and enqueues the
// corresponding sync jobs.
type Translator struct {
	store      *store.Store
	logger     *slog.Logger
	watchRoot  string
	remoteRoot string
	dirName    string

	mu      sync.Mutex
	pending map[uint64]pendingRemove // keyed by inode, awaiting a pairing CREATE
}

type pendingRemove struct {
	event watcher.Event
	at    time.Time
}

// New returns a Translator for a single watch root. remoteRoot may be
// empty; dirName is the local directory name used to build remote paths
// per the path-mapping rule (my_files synonyms are stripped there).
func New(st *store.Store, logger *slog.Logger, watchRoot, remoteRoot, dirName string) *Translator {
	return &Translator{
		store:      st,
		logger:     logger,
		watchRoot:  watchRoot,
		remoteRoot: remoteRoot,
		dirName:    dirName,
		pending:    make(map[uint64]pendingRemove),
	}
}

// Translate processes a batch of events, committing every resulting job
// enqueue and hash/node-mapping bookkeeping change in a single
// transaction, so observers never see a partially-applied batch.
// Called once per debounced batch from the watcher pipeline.
func (t *Translator) Translate(ctx context.Context, events []watcher.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := t.expirePending()

	return t.store.Transaction(ctx, func(tx *store.Tx) error {
		for _, ev := range expired {
			if err := t.enqueueDelete(ctx, tx, ev); err != nil {
				return err
			}
		}

		for _, ev := range events {
			if err := t.translateOne(ctx, tx, ev); err != nil {
				return err
			}
		}

		return nil
	})
}

func (t *Translator) translateOne(ctx context.Context, tx *store.Tx, ev watcher.Event) error {
	switch ev.Kind {
	case watcher.EventCreate:
		return t.handleCreate(ctx, tx, ev)
	case watcher.EventWrite:
		return t.handleWrite(ctx, tx, ev)
	case watcher.EventRemove:
		return t.handleRemove(ctx, tx, ev)
	default:
		return nil
	}
}

// handleCreate looks for a pending REMOVE with the same inode. If found,
// this CREATE is the other half of a rename or move, not a fresh create.
func (t *Translator) handleCreate(ctx context.Context, tx *store.Tx, ev watcher.Event) error {
	if ev.Ino != 0 {
		if removed, ok := t.pending[ev.Ino]; ok {
			delete(t.pending, ev.Ino)
			return t.enqueueRenameOrMove(ctx, tx, removed.event, ev)
		}
	}

	localPath := watcher.LocalPath(t.watchRoot, ev.Path)
	remotePath := watcher.RemotePath(t.remoteRoot, t.dirName, ev.Path)

	return t.enqueue(ctx, tx, store.JobParams{
		EventType:   store.EventCreate,
		LocalPath:   localPath,
		RemotePath:  remotePath,
		ContentHash: ev.ContentHash,
	})
}

// handleWrite suppresses the job entirely if the file's content hash is
// unchanged from the last recorded hash (a touch, or a save that
// round-trips to identical bytes), otherwise enqueues an UPDATE.
func (t *Translator) handleWrite(ctx context.Context, tx *store.Tx, ev watcher.Event) error {
	if ev.IsDir {
		return nil
	}

	localPath := watcher.LocalPath(t.watchRoot, ev.Path)

	if ev.ContentHash != "" {
		lastHash, err := t.store.GetFileHash(ctx, tx, localPath)
		if err != nil {
			return err
		}

		if lastHash == ev.ContentHash {
			t.logger.Debug("suppressing no-op update", slog.String("path", ev.Path))
			return nil
		}
	}

	remotePath := watcher.RemotePath(t.remoteRoot, t.dirName, ev.Path)

	return t.enqueue(ctx, tx, store.JobParams{
		EventType:   store.EventUpdate,
		LocalPath:   localPath,
		RemotePath:  remotePath,
		ContentHash: ev.ContentHash,
	})
}

// handleRemove defers judgment: it may be a plain delete, or the first
// half of a rename/move whose CREATE counterpart hasn't arrived yet.
func (t *Translator) handleRemove(ctx context.Context, tx *store.Tx, ev watcher.Event) error {
	if ev.Ino != 0 {
		t.pending[ev.Ino] = pendingRemove{event: ev, at: time.Now()}
		return nil
	}

	return t.enqueueDelete(ctx, tx, ev)
}

// expirePending removes REMOVEs that waited past pairWindow with no
// matching CREATE from the pending-pairing set and returns their
// original events, so the caller can translate them as plain deletes
// inside the same transaction as the rest of the batch.
func (t *Translator) expirePending() []watcher.Event {
	cutoff := time.Now().Add(-pairWindow)

	var expired []watcher.Event

	for ino, pr := range t.pending {
		if pr.at.Before(cutoff) {
			delete(t.pending, ino)
			expired = append(expired, pr.event)
		}
	}

	return expired
}

func (t *Translator) enqueueDelete(ctx context.Context, tx *store.Tx, ev watcher.Event) error {
	localPath := watcher.LocalPath(t.watchRoot, ev.Path)
	remotePath := watcher.RemotePath(t.remoteRoot, t.dirName, ev.Path)

	if ev.IsDir {
		if err := t.store.DeleteFileHashesUnderPrefix(ctx, tx, localPath); err != nil {
			return err
		}

		if err := t.store.DeleteNodeMappingsUnderPrefix(ctx, tx, localPath); err != nil {
			return err
		}
	} else {
		if err := t.store.DeleteFileHash(ctx, tx, localPath); err != nil {
			return err
		}
	}

	return t.enqueue(ctx, tx, store.JobParams{
		EventType:  store.EventDelete,
		LocalPath:  localPath,
		RemotePath: remotePath,
	})
}

// enqueueRenameOrMove decides RENAME vs MOVE based on whether the parent
// directory changed, and only emits either when the path previously had
// a node mapping (i.e. it had actually synced before). Otherwise there is
// nothing remote to rename or move, so it falls back to a DELETE of the
// old path plus a CREATE at the new one, purging the old path's hash (and,
// for a directory, everything nested beneath it) so a later re-create at
// the old path isn't wrongly suppressed as a no-op.
func (t *Translator) enqueueRenameOrMove(ctx context.Context, tx *store.Tx, oldEv, newEv watcher.Event) error {
	oldLocalPath := watcher.LocalPath(t.watchRoot, oldEv.Path)
	oldRemotePath := watcher.RemotePath(t.remoteRoot, t.dirName, oldEv.Path)
	newLocalPath := watcher.LocalPath(t.watchRoot, newEv.Path)
	newRemotePath := watcher.RemotePath(t.remoteRoot, t.dirName, newEv.Path)

	mapping, err := t.store.GetNodeMappingByLocalPath(ctx, tx, oldLocalPath)
	if err != nil {
		return err
	}

	if mapping == nil {
		if oldEv.IsDir {
			if err := t.store.DeleteFileHashesUnderPrefix(ctx, tx, oldLocalPath); err != nil {
				return err
			}

			if err := t.store.DeleteNodeMappingsUnderPrefix(ctx, tx, oldLocalPath); err != nil {
				return err
			}
		} else {
			if err := t.store.DeleteFileHash(ctx, tx, oldLocalPath); err != nil {
				return err
			}
		}

		if err := t.enqueue(ctx, tx, store.JobParams{
			EventType:  store.EventDelete,
			LocalPath:  oldLocalPath,
			RemotePath: oldRemotePath,
		}); err != nil {
			return err
		}

		return t.enqueue(ctx, tx, store.JobParams{
			EventType:   store.EventCreate,
			LocalPath:   newLocalPath,
			RemotePath:  newRemotePath,
			ContentHash: newEv.ContentHash,
		})
	}

	eventType := store.EventMove
	if sameParent(oldEv.Path, newEv.Path) {
		eventType = store.EventRename
	}

	return t.enqueue(ctx, tx, store.JobParams{
		EventType:     eventType,
		LocalPath:     newLocalPath,
		RemotePath:    newRemotePath,
		ContentHash:   newEv.ContentHash,
		OldLocalPath:  oldLocalPath,
		OldRemotePath: oldRemotePath,
	})
}

func sameParent(oldRelPath, newRelPath string) bool {
	return parentOf(oldRelPath) == parentOf(newRelPath)
}

func parentOf(relPath string) string {
	idx := strings.LastIndex(relPath, "/")
	if idx < 0 {
		return ""
	}

	return relPath[:idx]
}

func (t *Translator) enqueue(ctx context.Context, tx *store.Tx, params store.JobParams) error {
	_, err := t.store.EnqueueJob(ctx, tx, params, false)
	return err
}
