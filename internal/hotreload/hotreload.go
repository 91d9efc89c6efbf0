// Package hotreload debounces configuration reload events and atomically
// publishes freshly loaded configuration snapshots to all readers.
package hotreload

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReloadEventKind tags the source of a reload trigger.
type ReloadEventKind int

const (
	FileChanged ReloadEventKind = iota
	DatabaseChanged
	EnvChanged
)

// ReloadEvent is one trigger for the hot-reload loop.
type ReloadEvent struct {
	Kind ReloadEventKind
	Path string // set only for FileChanged
}

// DebounceDuration is the window the controller waits after the first event
// before invoking the loader, coalescing any further events that arrive
// within it.
const DebounceDuration = 500 * time.Millisecond

// snapshot bundles an immutable config value with the generation it was
// published at.
type snapshot[T any] struct {
	value      T
	generation uint64
}

// Config is a generation-tagged, atomically-swappable configuration
// container. Readers never block a concurrent publisher and vice versa.
type Config[T any] struct {
	current atomic.Pointer[snapshot[T]]
}

// NewConfig creates a container holding the given initial value at
// generation 0.
func NewConfig[T any](initial T) *Config[T] {
	c := &Config[T]{}
	c.current.Store(&snapshot[T]{value: initial, generation: 0})
	return c
}

// Get returns the currently published value.
func (c *Config[T]) Get() T {
	return c.current.Load().value
}

// Generation returns the generation number of the currently published
// value.
func (c *Config[T]) Generation() uint64 {
	return c.current.Load().generation
}

// Update publishes a new value, incrementing the generation exactly once.
// Safe for concurrent callers; the resulting generations are strictly
// increasing in the order Update calls complete.
func (c *Config[T]) Update(value T) uint64 {
	for {
		old := c.current.Load()
		next := &snapshot[T]{value: value, generation: old.generation + 1}
		if c.current.CompareAndSwap(old, next) {
			return next.generation
		}
	}
}

// Loader produces a fresh T from external sources (database, filesystem,
// environment). A non-nil error leaves the current snapshot untouched.
type Loader[T any] func(ctx context.Context) (T, error)

// Controller runs the debounced reload loop for one Config[T].
type Controller[T any] struct {
	events chan ReloadEvent
	config *Config[T]
	load   Loader[T]
	log    *slog.Logger
}

// NewController creates a controller that will read events, debounce them,
// and invoke load to refresh config.
func NewController[T any](config *Config[T], load Loader[T]) *Controller[T] {
	return &Controller[T]{
		events: make(chan ReloadEvent, 64),
		config: config,
		load:   load,
		log:    slog.With("component", "hotreload"),
	}
}

// Trigger enqueues a reload event. Safe to call concurrently; drops the
// event (logging at warn level) if the internal buffer is full, which only
// happens under sustained event storms far exceeding the debounce window.
func (c *Controller[T]) Trigger(ev ReloadEvent) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("reload event dropped, buffer full")
	}
}

// Close terminates the controller's event stream, causing Run to return
// once it next observes the channel closed.
func (c *Controller[T]) Close() {
	close(c.events)
}

// Run executes the debounce-then-reload loop until ctx is cancelled or the
// event channel is closed. Reload failures are logged and the loop goes on
// waiting for the next event.
func (c *Controller[T]) Run(ctx context.Context) {
	for {
		var first ReloadEvent
		select {
		case ev, ok := <-c.events:
			if !ok {
				c.log.Info("reload channel closed, stopping hot-reload loop")
				return
			}
			first = ev
		case <-ctx.Done():
			return
		}

		c.log.Debug("reload event received", "kind", first.Kind)

		timer := time.NewTimer(DebounceDuration)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		coalesced := c.drainPending()
		if coalesced > 0 {
			c.log.Debug("coalesced additional reload events during debounce window", "count", coalesced)
		}

		oldGen := c.config.Generation()
		newValue, err := c.load(ctx)
		if err != nil {
			c.log.Error("failed to reload configuration", "error", err)
			continue
		}
		newGen := c.config.Update(newValue)
		c.log.Info("configuration reloaded", "old_generation", oldGen, "new_generation", newGen)
	}
}

// drainPending empties any events that arrived during the debounce window,
// returning the count drained.
func (c *Controller[T]) drainPending() int {
	n := 0
	for {
		select {
		case _, ok := <-c.events:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
