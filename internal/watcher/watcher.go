// Package watcher defines the narrow interface the engine uses to learn
// about local filesystem changes, independent of any concrete watch
// mechanism. internal/localwatch provides the fsnotify-backed
// implementation; tests may supply their own.
package watcher

import (
	"context"
)

// EventKind classifies a single filesystem event as reported by a Watcher.
type EventKind string

const (
	EventCreate EventKind = "CREATE"
	EventWrite  EventKind = "WRITE"
	EventRemove EventKind = "REMOVE"
)

// Event is a single observed filesystem change, already NFC-normalized
// and relative to the watch root.
type Event struct {
	Kind EventKind
	// Path is the watch-root-relative, forward-slash, NFC-normalized path.
	Path string
	// IsDir reports whether Path identified a directory at observation
	// time. For EventRemove this reflects the last known type, since the
	// path no longer exists to stat.
	IsDir bool
	// Ino is the filesystem's stable inode number for Path, used to pair
	// a REMOVE/CREATE pair into a single rename or move. Zero if unknown
	// (e.g. the path vanished before it could be stat'd).
	Ino uint64
	// ContentHash is populated for file CREATE/WRITE events; empty for
	// directories and for REMOVE events.
	ContentHash string
}

// Watcher emits filesystem events for a single watch root until Watch's
// context is canceled.
type Watcher interface {
	// Watch starts observing root and sends events on the returned
	// channel until ctx is canceled, at which point the channel is
	// closed. The returned error reflects only startup failure (root
	// does not exist, watch registration failed); transient errors
	// encountered while watching are retried internally and logged, not
	// surfaced here.
	Watch(ctx context.Context, root string) (<-chan Event, error)

	// Close releases any resources held by the watcher (kernel watch
	// descriptors, file handles). Safe to call after Watch's context has
	// already been canceled.
	Close() error
}
