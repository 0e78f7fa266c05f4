// Package flags exposes the named boolean process states tracked by the
// store (RUNNING, PAUSED, SERVICE_INSTALLED, DRAIN_REQUESTED) behind a
// small typed API, so callers don't spell out raw flag-name strings.
package flags

import (
	"context"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
)

// Registry is a thin, typed view over the store's flags table.
type Registry struct {
	store *store.Store
}

// New returns a Registry backed by st.
func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// Set sets the named flag. Idempotent.
func (r *Registry) Set(ctx context.Context, name string) error {
	return r.store.SetFlag(ctx, nil, name)
}

// Clear clears the named flag. Idempotent.
func (r *Registry) Clear(ctx context.Context, name string) error {
	return r.store.ClearFlag(ctx, nil, name)
}

// IsSet reports whether the named flag is currently set.
func (r *Registry) IsSet(ctx context.Context, name string) (bool, error) {
	return r.store.IsFlagSet(ctx, name)
}

// Running reports whether the engine is currently marked as running.
func (r *Registry) Running(ctx context.Context) (bool, error) {
	return r.IsSet(ctx, store.FlagRunning)
}

// SetRunning marks (or unmarks) the engine as running.
func (r *Registry) SetRunning(ctx context.Context, running bool) error {
	if running {
		return r.Set(ctx, store.FlagRunning)
	}

	return r.Clear(ctx, store.FlagRunning)
}

// Paused reports whether syncing is currently paused.
func (r *Registry) Paused(ctx context.Context) (bool, error) {
	return r.IsSet(ctx, store.FlagPaused)
}

// SetPaused pauses or resumes syncing.
func (r *Registry) SetPaused(ctx context.Context, paused bool) error {
	if paused {
		return r.Set(ctx, store.FlagPaused)
	}

	return r.Clear(ctx, store.FlagPaused)
}

// DrainRequested reports whether an operator requested a graceful drain
// (finish in-flight jobs, then stop dispatching new ones).
func (r *Registry) DrainRequested(ctx context.Context) (bool, error) {
	return r.IsSet(ctx, store.FlagDrainRequested)
}

// RequestDrain sets or clears the drain request flag.
func (r *Registry) RequestDrain(ctx context.Context, drain bool) error {
	if drain {
		return r.Set(ctx, store.FlagDrainRequested)
	}

	return r.Clear(ctx, store.FlagDrainRequested)
}

// ServiceInstalled reports whether the daemon has been registered with
// the host's service manager (systemd unit, launchd plist, etc.).
func (r *Registry) ServiceInstalled(ctx context.Context) (bool, error) {
	return r.IsSet(ctx, store.FlagServiceInstalled)
}

// SetServiceInstalled records whether the daemon is registered as a
// host service.
func (r *Registry) SetServiceInstalled(ctx context.Context, installed bool) error {
	if installed {
		return r.Set(ctx, store.FlagServiceInstalled)
	}

	return r.Clear(ctx, store.FlagServiceInstalled)
}
