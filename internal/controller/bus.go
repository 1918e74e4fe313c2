package controller

import (
	"context"
	"log/slog"
	"sync"

	"github.com/runoshun/crewteam/internal/domain"
)

// Handler receives controller events. Handlers run synchronously on the
// publishing goroutine, in subscription order, and must not call Shutdown.
type Handler func(domain.Event)

// Bus fans controller events out to subscribers.
type Bus struct {
	logger *slog.Logger
	subs   []subscription
	nextID uint64
	mu     sync.RWMutex
}

type subscription struct {
	fn Handler
	id uint64
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber. A panicking handler is
// logged and skipped so it cannot take down the poller.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.fn, ev)
	}
}

func (b *Bus) deliver(fn Handler, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", ev.Type, "agent", ev.Agent, "panic", r)
		}
	}()
	fn(ev)
}

// Channel returns a buffered channel receiving every event and a function
// that unsubscribes and closes it. Events are dropped, with a warning,
// while the buffer is full.
func (b *Bus) Channel(buffer int) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := b.Subscribe(func(ev domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			b.logger.Warn("event channel full, dropping event", "event", ev.Type, "agent", ev.Agent)
		}
	})
	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// Watcher captures events matching a predicate from the moment it is
// created. Create it before triggering the action that produces the
// event, then call Wait.
type Watcher struct {
	ch          chan domain.Event
	unsubscribe func()
}

// Watch starts capturing events for which match returns true.
func (b *Bus) Watch(match func(domain.Event) bool) *Watcher {
	w := &Watcher{ch: make(chan domain.Event, 64)}
	w.unsubscribe = b.Subscribe(func(ev domain.Event) {
		if !match(ev) {
			return
		}
		select {
		case w.ch <- ev:
		default:
		}
	})
	return w
}

// Wait returns the next captured event, or ctx's error.
func (w *Watcher) Wait(ctx context.Context) (domain.Event, error) {
	select {
	case ev := <-w.ch:
		return ev, nil
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	}
}

// Close stops capturing events.
func (w *Watcher) Close() {
	w.unsubscribe()
}
