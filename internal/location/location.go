// Package location wraps a position provider behind a small idle/started
// state machine and fans position samples out to listeners. No aggregation
// happens here.
package location

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gigilibala/happyrunner-sub000/internal/events"
)

// Position is one sample from the provider.
type Position struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
}

// Options bound the provider's update stream.
type Options struct {
	Interval        time.Duration
	MinDisplacement float64 // meters
}

// DefaultOptions matches the sampling cadence the activity layer expects.
func DefaultOptions() Options {
	return Options{Interval: time.Second, MinDisplacement: 1}
}

// Provider is the platform position source. Start begins continuous updates
// delivered through fn until Stop; it returns an error when permission is
// denied or the hardware is unavailable. Implemented by sim.LocationProvider
// for tests and demo mode.
type Provider interface {
	Start(opts Options, fn func(Position)) error
	Stop() error
}

// Status is the watcher's phase.
type Status int

const (
	StatusIdle Status = iota
	StatusStarted
)

func (s Status) String() string {
	if s == StatusStarted {
		return "started"
	}
	return "idle"
}

// Watcher owns the provider lifecycle. Start/Stop are guarded by status so
// only one watch is outstanding at a time.
type Watcher struct {
	provider Provider
	logger   *log.Logger

	mu     sync.RWMutex
	status Status
	last   *Position

	positionEvent *events.Callback[Position]
}

// NewWatcher creates a Watcher over the given provider.
func NewWatcher(provider Provider, logger *log.Logger) *Watcher {
	if provider == nil {
		panic("location: provider cannot be nil")
	}
	if logger == nil {
		panic("location: logger cannot be nil")
	}
	return &Watcher{
		provider:      provider,
		logger:        logger,
		positionEvent: events.NewCallback[Position](),
	}
}

// Start begins position watching. No-op when already started. A provider
// failure (permission denied, no hardware) leaves the watcher idle.
//
// The started state is claimed before the provider call, so fixes a provider
// delivers synchronously from Start are kept, and a second Start racing the
// first cannot reach the provider twice.
func (w *Watcher) Start(opts Options) error {
	w.mu.Lock()
	if w.status == StatusStarted {
		w.mu.Unlock()
		return nil
	}
	w.status = StatusStarted
	w.mu.Unlock()

	if err := w.provider.Start(opts, w.onPosition); err != nil {
		w.mu.Lock()
		w.status = StatusIdle
		w.last = nil
		w.mu.Unlock()
		w.logger.Printf("location: start failed: %v", err)
		return fmt.Errorf("starting position watch: %w", err)
	}

	w.logger.Printf("location: watching started (interval %v)", opts.Interval)
	return nil
}

// Stop cancels the watch and returns to idle. No-op when already idle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.status == StatusIdle {
		w.mu.Unlock()
		return
	}
	w.status = StatusIdle
	w.last = nil
	w.mu.Unlock()

	if err := w.provider.Stop(); err != nil {
		w.logger.Printf("location: stop: %v", err)
	}
	w.logger.Printf("location: watching stopped")
}

// Status returns the watcher's phase.
func (w *Watcher) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// LastPosition returns the most recent sample. ok is false before the first
// update of the current watch.
func (w *Watcher) LastPosition() (Position, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return Position{}, false
	}
	return *w.last, true
}

// ListenToPositions registers fn for position samples. Returns a
// deregistration function.
func (w *Watcher) ListenToPositions(fn func(Position)) func() {
	return w.positionEvent.Listen(fn)
}

func (w *Watcher) onPosition(pos Position) {
	w.mu.Lock()
	if w.status != StatusStarted {
		// Late callback from a cancelled watch.
		w.mu.Unlock()
		return
	}
	p := pos
	w.last = &p
	w.mu.Unlock()

	w.positionEvent.Notify(pos)
}
