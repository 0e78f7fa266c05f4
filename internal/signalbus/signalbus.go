// Package signalbus provides a durable, DB-backed signal queue with an
// in-process broadcast loop. Signals are persisted before any listener
// runs, so a listener that terminates the process never loses a signal
// that was already delivered to another one waiting in the queue.
package signalbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/store"
)

// Well-known signal names understood by the engine.
const (
	SignalPause  = "pause-sync"
	SignalResume = "resume-sync"
	SignalDrain  = "stop"
	SignalReload = "reload"
)

const defaultPollInterval = 200 * time.Millisecond

// Bus polls the store's signal queue and broadcasts each signal, in
// arrival order, to every subscriber registered at delivery time. A
// signal whose name has no subscriber stays queued, so a subscriber
// registered after the signal was sent still receives it.
type Bus struct {
	store        *store.Store
	logger       *slog.Logger
	pollInterval time.Duration

	mu   sync.Mutex
	subs map[string][]chan struct{}
}

// New creates a Bus backed by st. Call Run in its own goroutine to start
// the delivery loop.
func New(st *store.Store, logger *slog.Logger) *Bus {
	return &Bus{
		store:        st,
		logger:       logger,
		pollInterval: defaultPollInterval,
		subs:         make(map[string][]chan struct{}),
	}
}

// Send durably enqueues a named signal. Safe to call before any
// subscriber has registered; the signal waits in the queue until Run's
// poll loop picks it up.
func (b *Bus) Send(ctx context.Context, name string) error {
	return b.store.SendSignal(ctx, nil, name)
}

// Subscribe registers interest in name and returns a channel that
// receives a value each time that signal is delivered. Close ctx (or let
// it expire) to stop receiving; the channel is never closed, since the
// channel's buffer is sized for exactly one pending delivery and
// listeners are expected to select on ctx.Done() alongside it.
func (b *Bus) Subscribe(ctx context.Context, name string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	b.subs[name] = append(b.subs[name], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(name, ch)
	}()

	return ch
}

func (b *Bus) unsubscribe(name string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, c := range subs {
		if c == ch {
			b.subs[name] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Run drives the delivery loop until ctx is canceled. Each tick peeks the
// oldest pending signal whose name has a subscriber, deletes it in its
// own transaction (committed
// before any listener runs — delete-before-notify), then broadcasts to
// every current subscriber of that name.
func (b *Bus) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := b.drainOne(ctx); err != nil {
				b.logger.Error("signal bus drain failed", slog.Any("error", err))
			}
		}
	}
}

// drainOne delivers at most one signal per call, so a burst of enqueued
// signals is delivered one tick at a time rather than coalesced. Only the
// oldest signal whose name currently has a registered subscriber is
// eligible: a signal with no listener (sent before the daemon subscribes,
// or a name nobody consumes yet) stays queued rather than being dropped,
// per the readiness-handshake contract between CLI producers and the
// daemon.
func (b *Bus) drainOne(ctx context.Context) error {
	names := b.listenedNames()
	if len(names) == 0 {
		return nil
	}

	sig, err := b.store.PeekNextSignalForNames(ctx, names)
	if err != nil {
		return err
	}

	if sig == nil {
		return nil
	}

	// Delete before notify: this commit must land before any subscriber
	// runs, since a subscriber may call os.Exit.
	if err := b.store.DeleteSignal(ctx, nil, sig.ID); err != nil {
		return err
	}

	b.logger.Debug("signal delivered", slog.String("name", sig.Name), slog.Int64("id", sig.ID))
	b.broadcast(sig.Name)

	return nil
}

// listenedNames returns the signal names with at least one currently
// registered subscriber.
func (b *Bus) listenedNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.subs))

	for name, chs := range b.subs {
		if len(chs) > 0 {
			names = append(names, name)
		}
	}

	return names
}

func (b *Bus) broadcast(name string) {
	b.mu.Lock()
	subs := append([]chan struct{}(nil), b.subs[name]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has an undelivered notification pending;
			// coalesce rather than block the bus.
		}
	}
}
