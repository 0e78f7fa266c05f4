package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs the burst of events editors tend to generate for
// a single logical save (truncate, write, chmod).
const reloadDebounce = 150 * time.Millisecond

// Change describes what differs between a previously loaded Config and a
// freshly reloaded one. Nil fields mean "unchanged"; the daemon layer
// translates this into an engine.ConfigChange when applying it.
type Change struct {
	SyncConcurrency *int
	SyncDirs        []SyncDir
}

// Watch watches path for writes and emits a Change on chan whenever the
// reloaded, validated config differs from the previous one. Parse or
// validation failures on reload are logged and otherwise ignored — the
// daemon keeps running on its last-known-good config rather than crash on
// a bad edit.
func Watch(ctx context.Context, path string, logger *slog.Logger) (<-chan Change, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	prev, err := Load(path)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}

	out := make(chan Change, 1)

	go func() {
		defer fsw.Close()
		defer close(out)

		var timer *time.Timer

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}

				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}

				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}

				logger.Error("config watch error", slog.Any("error", err))

			case <-timerC(timer):
				next, err := Load(path)
				if err != nil {
					logger.Error("config reload failed, keeping previous config", slog.Any("error", err))
					continue
				}

				if change := diff(prev, next); change != nil {
					prev = next

					select {
					case out <- *change:
					case <-ctx.Done():
						return
					}
				} else {
					prev = next
				}
			}
		}
	}()

	return out, nil
}

// timerC returns t.C, or nil if t is nil. A nil channel blocks forever in
// a select, which is exactly "this case is not ready yet" before the
// first debounce timer has been armed.
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}

	return t.C
}

// diff compares two configs and returns a Change describing what moved,
// or nil if nothing the daemon cares about changed.
func diff(prev, next *Config) *Change {
	var change Change
	changed := false

	if prev.SyncConcurrency != next.SyncConcurrency {
		c := next.SyncConcurrency
		change.SyncConcurrency = &c
		changed = true
	}

	if !sameSyncDirs(prev.SyncDirs, next.SyncDirs) {
		change.SyncDirs = make([]SyncDir, len(next.SyncDirs))
		copy(change.SyncDirs, next.SyncDirs)
		changed = true
	}

	if !changed {
		return nil
	}

	return &change
}

func sameSyncDirs(a, b []SyncDir) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
