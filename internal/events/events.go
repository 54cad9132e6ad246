// Package events provides the pub/sub primitives the state machines use to
// push samples and state snapshots to interested parties without knowing who
// they are.
package events

import (
	"sync"
)

// Callback fans a value out to registered callback functions.
// T is the type of the argument passed to the callbacks.
type Callback[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]func(T)
	nextID    uint64
}

// NewCallback creates a new Callback event.
func NewCallback[T any]() *Callback[T] {
	return &Callback[T]{
		listeners: make(map[uint64]func(T)),
	}
}

// Listen registers fn to be invoked on every Notify.
// Returns a deregistration function that removes the listener.
func (e *Callback[T]) Listen(fn func(T)) func() {
	if fn == nil {
		panic("events: callback cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// Notify invokes every registered callback with value. Callbacks run outside
// the internal lock, so a listener may register or deregister from within its
// own callback.
func (e *Callback[T]) Notify(value T) {
	e.mu.RLock()
	fns := make([]func(T), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(value)
	}
}

// ListenerCount returns the current number of registered listeners.
func (e *Callback[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Channel fans a value out to registered channels. Sends are non-blocking: a
// listener whose channel is full misses that notification.
//
// When replayLast is set, the most recent value is delivered to new listeners
// immediately on Listen, so late subscribers see the current state without
// waiting for the next change.
type Channel[T any] struct {
	mu         sync.RWMutex
	channels   map[uint64]chan<- T
	nextID     uint64
	replayLast bool
	last       *T
}

// NewChannel creates a new Channel event.
func NewChannel[T any](replayLast bool) *Channel[T] {
	return &Channel[T]{
		channels:   make(map[uint64]chan<- T),
		replayLast: replayLast,
	}
}

// Listen registers ch to receive values on every Notify.
// Returns a deregistration function that removes the listener.
func (e *Channel[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("events: channel cannot be nil")
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.channels[id] = ch
	var replay *T
	if e.replayLast && e.last != nil {
		v := *e.last
		replay = &v
	}
	e.mu.Unlock()

	if replay != nil {
		select {
		case ch <- *replay:
		default:
		}
	}

	return func() {
		e.mu.Lock()
		delete(e.channels, id)
		e.mu.Unlock()
	}
}

// Notify sends value to every registered channel without blocking.
func (e *Channel[T]) Notify(value T) {
	e.mu.Lock()
	if e.replayLast {
		v := value
		e.last = &v
	}
	chs := make([]chan<- T, 0, len(e.channels))
	for _, ch := range e.channels {
		chs = append(chs, ch)
	}
	e.mu.Unlock()

	for _, ch := range chs {
		select {
		case ch <- value:
		default:
		}
	}
}

// ListenerCount returns the current number of registered listeners.
func (e *Channel[T]) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.channels)
}
