// Package activity owns the workout lifecycle: the idle/in-progress/paused/
// stopped state machine, the periodic sampling of the sensor collaborators,
// the per-signal lap and total aggregates, and the persistence calls for
// activity records, data points, and lap summaries.
package activity

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gigilibala/happyrunner-sub000/internal/events"
	"github.com/gigilibala/happyrunner-sub000/internal/goutil"
	"github.com/gigilibala/happyrunner-sub000/internal/location"
	"github.com/gigilibala/happyrunner-sub000/internal/stats"
	"github.com/gigilibala/happyrunner-sub000/internal/store"
	"github.com/gigilibala/happyrunner-sub000/internal/units"
)

// Status is the session's lifecycle phase. Stopped is terminal.
type Status int

const (
	StatusIdle Status = iota
	StatusInProgress
	StatusPaused
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInProgress:
		return "in-progress"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// HeartRateSource yields the current heart rate. ok is false when no monitor
// is connected or no measurement has arrived yet. Satisfied by *hrm.Monitor.
type HeartRateSource interface {
	HeartRate() (int, bool)
}

// PositionSource yields the most recent position fix. ok is false when
// position watching is off or no fix has arrived yet. Satisfied by
// *location.Watcher.
type PositionSource interface {
	LastPosition() (location.Position, bool)
}

// Persistence is the storage collaborator. Calls are fire-and-forget:
// failures are logged and never roll back in-memory state. Satisfied by
// *store.Store.
type Persistence interface {
	AddActivity(a store.Activity) error
	ModifyActivity(id string, u store.ActivityUpdate) error
	AddActivityDatum(d store.Datum) error
	AddActivityLap(l store.Lap) error
}

// Metric is one signal's display strings for the lap and total windows.
type Metric struct {
	Lap   string
	Total string
}

// State is the display snapshot published after every transition and tick.
// All values are already converted to the active unit preference.
type State struct {
	Status     Status
	ActivityID string
	LapNumber  int
	Duration   Metric // lap MM:SS, total HH:MM:SS
	Distance   Metric
	Speed      Metric
	HeartRate  Metric
}

type command int

const (
	cmdStart command = iota
	cmdPause
	cmdResume
	cmdStop
	cmdNextLap
)

const defaultSampleInterval = 3 * time.Second

// Session is the activity state machine. Transitions are requested through
// the public operations and executed on one owned goroutine, which also owns
// the sampling ticker: the ticker runs exactly while the status is
// in-progress.
type Session struct {
	logger  *log.Logger
	persist Persistence
	hr      HeartRateSource
	pos     PositionSource

	activityType   string
	sampleInterval time.Duration
	now            func() time.Time

	mu          sync.RWMutex
	status      Status
	id          string
	startTime   time.Time
	startMs     int64
	endMs       int64
	lapNumber   int
	lapStartMs  int64
	pausedAtMs  int64
	lastDatumMs int64
	manualSpeed float64 // m/s, 0 means derive from positions
	lastPos     *location.Position
	hrSink      *stats.Sink
	speedSink   *stats.Sink
	pref        units.Preference

	stateEvent *events.Channel[State]

	cmdChan      chan command
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewSession creates a Session for one activity of the given type. A
// non-positive sampleInterval falls back to the 3 second default.
func NewSession(activityType string, pref units.Preference, persist Persistence, hr HeartRateSource, pos PositionSource, sampleInterval time.Duration, logger *log.Logger) *Session {
	if persist == nil {
		panic("activity: persist cannot be nil")
	}
	if hr == nil {
		panic("activity: hr cannot be nil")
	}
	if pos == nil {
		panic("activity: pos cannot be nil")
	}
	if logger == nil {
		panic("activity: logger cannot be nil")
	}
	if sampleInterval <= 0 {
		sampleInterval = defaultSampleInterval
	}

	s := &Session{
		logger:         logger,
		persist:        persist,
		hr:             hr,
		pos:            pos,
		activityType:   activityType,
		sampleInterval: sampleInterval,
		now:            time.Now,
		status:         StatusIdle,
		hrSink:         stats.NewSink("heart_rate"),
		speedSink:      stats.NewSink("speed"),
		pref:           pref,
		stateEvent:     events.NewChannel[State](true),
		cmdChan:        make(chan command, 1),
		doneChan:       make(chan struct{}),
	}

	s.wg.Add(1)
	goutil.SafeGo(logger, func() { s.runLoop() })
	return s
}

// Start assigns the activity its identity, persists the insert, and begins
// sampling. Only legal from idle.
func (s *Session) Start() {
	if s.statusIs(StatusIdle) {
		s.cmdChan <- cmdStart
		return
	}
	s.logger.Printf("activity: start ignored, session not idle")
}

// Pause suspends sampling. Only legal from in-progress; pausing twice is a
// no-op.
func (s *Session) Pause() {
	if s.statusIs(StatusInProgress) {
		s.cmdChan <- cmdPause
		return
	}
	s.logger.Printf("activity: pause ignored, session not in progress")
}

// Resume continues a paused session. The paused gap is excluded from the lap
// window's time weighting.
func (s *Session) Resume() {
	if s.statusIs(StatusPaused) {
		s.cmdChan <- cmdResume
		return
	}
	s.logger.Printf("activity: resume ignored, session not paused")
}

// Stop terminates the session: closes the final partial lap when lap
// boundaries were used, writes the number-0 total lap, and persists the final
// status with end time. Terminal.
func (s *Session) Stop() {
	if s.statusIs(StatusInProgress) || s.statusIs(StatusPaused) {
		s.cmdChan <- cmdStop
		return
	}
	s.logger.Printf("activity: stop ignored, session not running")
}

// NextLap closes the current lap and opens the next one. While paused the
// lap's end boundary is the pause timestamp; a boundary that would precede
// the lap start is discarded.
func (s *Session) NextLap() {
	if s.statusIs(StatusInProgress) || s.statusIs(StatusPaused) {
		s.cmdChan <- cmdNextLap
		return
	}
	s.logger.Printf("activity: next lap ignored, session not running")
}

// SetNotes persists free-text notes. Only legal once stopped.
func (s *Session) SetNotes(notes string) error {
	s.mu.RLock()
	status := s.status
	id := s.id
	s.mu.RUnlock()

	if status != StatusStopped {
		return fmt.Errorf("notes can only be set on a stopped activity, status is %v", status)
	}
	if err := s.persist.ModifyActivity(id, store.ActivityUpdate{Notes: &notes}); err != nil {
		return fmt.Errorf("saving notes: %w", err)
	}
	return nil
}

// SetManualSpeed fixes the speed signal to a user-entered value in display
// units (km/h, mph, or pace minutes, per the active preference). Values <= 0
// clear it, returning to position-derived speed.
func (s *Session) SetManualSpeed(display float64) {
	s.mu.Lock()
	s.manualSpeed = s.pref.ToRawSpeed(display)
	raw := s.manualSpeed
	s.mu.Unlock()
	s.logger.Printf("activity: manual speed set to %.2f m/s", raw)
}

// SetUnits changes the display unit preference and republishes the state.
// Raw aggregates are untouched; this is a display-time transform only.
func (s *Session) SetUnits(pref units.Preference) {
	s.mu.Lock()
	s.pref = pref
	state := s.buildStateLocked(s.now().UnixMilli())
	s.mu.Unlock()
	s.stateEvent.Notify(state)
}

// GetState returns the current display snapshot.
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buildStateLocked(s.now().UnixMilli())
}

// ActivityID returns the assigned identity, empty before Start.
func (s *Session) ActivityID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// ListenToState registers ch for display snapshots. The current state is
// replayed to new listeners. Returns a deregistration function.
func (s *Session) ListenToState(ch chan<- State) func() {
	return s.stateEvent.Listen(ch)
}

// Shutdown stops the loop goroutine. It does not stop a running activity;
// call Stop first to finalize records. Safe to call more than once.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Printf("activity: shutting down")
		close(s.doneChan)
		s.wg.Wait()
		s.logger.Printf("activity: shutdown complete")
	})
}

func (s *Session) statusIs(status Status) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == status
}

// runLoop executes transitions and owns the sampling ticker.
func (s *Session) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sampleInterval)
	ticker.Stop()

	for {
		select {
		case <-s.doneChan:
			ticker.Stop()
			return

		case cmd := <-s.cmdChan:
			switch cmd {
			case cmdStart:
				if s.handleStart() {
					ticker.Reset(s.sampleInterval)
				}
			case cmdPause:
				if s.handlePause() {
					ticker.Stop()
				}
			case cmdResume:
				if s.handleResume() {
					ticker.Reset(s.sampleInterval)
				}
			case cmdStop:
				if s.handleStop() {
					ticker.Stop()
				}
			case cmdNextLap:
				s.handleNextLap()
			}

		case <-ticker.C:
			s.handleTick()
		}
	}
}

func (s *Session) handleStart() bool {
	now := s.now()
	ms := now.UnixMilli()

	s.mu.Lock()
	if s.status != StatusIdle {
		s.mu.Unlock()
		return false
	}
	s.id = uuid.NewString()
	s.status = StatusInProgress
	s.startTime = now
	s.startMs = ms
	s.lapNumber = 1
	s.lapStartMs = ms
	s.hrSink = stats.NewSink("heart_rate")
	s.speedSink = stats.NewSink("speed")
	record := store.Activity{
		ID:        s.id,
		Type:      s.activityType,
		Status:    store.StatusInProgress,
		StartTime: now,
	}
	state := s.buildStateLocked(ms)
	s.mu.Unlock()

	s.logger.Printf("activity: started %s (%s)", record.ID, record.Type)
	s.persistAsync("add activity", func() error { return s.persist.AddActivity(record) })
	s.stateEvent.Notify(state)
	return true
}

func (s *Session) handlePause() bool {
	ms := s.now().UnixMilli()

	s.mu.Lock()
	if s.status != StatusInProgress {
		s.mu.Unlock()
		return false
	}
	s.status = StatusPaused
	s.pausedAtMs = ms
	// Position continuity across the pause would count paused movement as
	// activity distance; restart derivation on resume instead.
	s.lastPos = nil
	id := s.id
	state := s.buildStateLocked(ms)
	s.mu.Unlock()

	s.logger.Printf("activity: paused %s", id)
	status := store.StatusPaused
	s.persistAsync("pause activity", func() error {
		return s.persist.ModifyActivity(id, store.ActivityUpdate{Status: &status})
	})
	s.stateEvent.Notify(state)
	return true
}

func (s *Session) handleResume() bool {
	ms := s.now().UnixMilli()

	s.mu.Lock()
	if s.status != StatusPaused {
		s.mu.Unlock()
		return false
	}
	s.status = StatusInProgress
	s.pausedAtMs = 0
	s.hrSink.ResumeLap(ms)
	s.speedSink.ResumeLap(ms)
	id := s.id
	state := s.buildStateLocked(ms)
	s.mu.Unlock()

	s.logger.Printf("activity: resumed %s", id)
	status := store.StatusInProgress
	s.persistAsync("resume activity", func() error {
		return s.persist.ModifyActivity(id, store.ActivityUpdate{Status: &status})
	})
	s.stateEvent.Notify(state)
	return true
}

func (s *Session) handleNextLap() bool {
	ms := s.now().UnixMilli()

	s.mu.Lock()
	if s.status != StatusInProgress && s.status != StatusPaused {
		s.mu.Unlock()
		return false
	}
	endMs := ms
	if s.status == StatusPaused {
		endMs = s.pausedAtMs
	}
	if endMs < s.lapStartMs {
		s.mu.Unlock()
		s.logger.Printf("activity: next lap ignored, boundary %d precedes lap start", endMs)
		return false
	}

	lap := s.lapRecordLocked(s.lapNumber, s.lapStartMs, endMs, s.hrSink.Lap, s.speedSink.Lap)
	s.lapNumber++
	s.lapStartMs = endMs
	s.hrSink.ResetLap()
	s.speedSink.ResetLap()
	state := s.buildStateLocked(ms)
	s.mu.Unlock()

	s.logger.Printf("activity: closed lap %d (%d ms)", lap.Number, lap.DurationMs)
	s.persistAsync("add lap", func() error { return s.persist.AddActivityLap(lap) })
	s.stateEvent.Notify(state)
	return true
}

func (s *Session) handleStop() bool {
	now := s.now()
	ms := now.UnixMilli()

	s.mu.Lock()
	if s.status != StatusInProgress && s.status != StatusPaused {
		s.mu.Unlock()
		return false
	}
	endMs := ms
	endTime := now
	if s.status == StatusPaused {
		// The activity effectively ended when it was paused.
		endMs = s.pausedAtMs
		endTime = time.UnixMilli(endMs)
	}

	// Close the final partial lap only when lap boundaries were used; with no
	// boundaries the total below is the whole story.
	var finalLap *store.Lap
	if s.lapNumber > 1 && endMs >= s.lapStartMs {
		lap := s.lapRecordLocked(s.lapNumber, s.lapStartMs, endMs, s.hrSink.Lap, s.speedSink.Lap)
		finalLap = &lap
	}
	total := s.lapRecordLocked(0, s.startMs, endMs, s.hrSink.Total, s.speedSink.Total)

	s.status = StatusStopped
	s.endMs = endMs
	id := s.id
	state := s.buildStateLocked(endMs)
	s.mu.Unlock()

	s.logger.Printf("activity: stopped %s after %d ms", id, total.DurationMs)
	status := store.StatusStopped
	s.persistAsync("stop activity", func() error {
		return s.persist.ModifyActivity(id, store.ActivityUpdate{Status: &status, EndTime: &endTime})
	})
	// One goroutine for both laps so the final partial lap lands before the
	// total.
	s.persistAsync("add closing laps", func() error {
		if finalLap != nil {
			if err := s.persist.AddActivityLap(*finalLap); err != nil {
				s.logger.Printf("activity: add final lap failed: %v", err)
			}
		}
		return s.persist.AddActivityLap(total)
	})
	s.stateEvent.Notify(state)
	return true
}

// handleTick samples the sensor collaborators, feeds the sinks, and persists
// one datum. Sensor reads happen outside the lock.
func (s *Session) handleTick() {
	ms := s.now().UnixMilli()

	hrValue, hrOK := s.hr.HeartRate()
	pos, posOK := s.pos.LastPosition()

	s.mu.Lock()
	if s.status != StatusInProgress {
		s.mu.Unlock()
		return
	}
	if ms == s.lastDatumMs {
		// A restarted ticker re-fired within the same millisecond.
		s.mu.Unlock()
		return
	}
	s.lastDatumMs = ms

	datum := store.Datum{Timestamp: ms, ActivityID: s.id}

	if hrOK {
		v := hrValue
		datum.HeartRate = &v
		s.hrSink.Update(float64(v), ms)
	}

	speed, speedOK := s.resolveSpeedLocked(pos, posOK)
	if speedOK {
		v := speed
		datum.Speed = &v
		s.speedSink.Update(v, ms)
	}
	if posOK {
		lat, lon := pos.Latitude, pos.Longitude
		datum.Latitude = &lat
		datum.Longitude = &lon
	}

	state := s.buildStateLocked(ms)
	s.mu.Unlock()

	s.persistAsync("add datum", func() error { return s.persist.AddActivityDatum(datum) })
	s.stateEvent.Notify(state)
}

// resolveSpeedLocked returns the tick's speed in m/s: the manual override
// when set, otherwise the distance between consecutive position fixes over
// their time delta. No fresh fix means no speed sample this tick.
func (s *Session) resolveSpeedLocked(pos location.Position, posOK bool) (float64, bool) {
	if s.manualSpeed > 0 {
		return s.manualSpeed, true
	}
	if !posOK {
		return 0, false
	}

	defer func() {
		p := pos
		s.lastPos = &p
	}()

	if s.lastPos == nil || !pos.Timestamp.After(s.lastPos.Timestamp) {
		return 0, false
	}
	dt := pos.Timestamp.Sub(s.lastPos.Timestamp).Seconds()
	meters := haversineMeters(s.lastPos.Latitude, s.lastPos.Longitude, pos.Latitude, pos.Longitude)
	return meters / dt, true
}

// lapRecordLocked builds a persistable lap summary from one window of each
// signal. Distance is the time integral of speed over the window.
func (s *Session) lapRecordLocked(number int, startMs, endMs int64, hr, speed stats.Aggregate) store.Lap {
	l := store.Lap{
		ActivityID: s.id,
		Number:     number,
		StartTime:  startMs,
		EndTime:    endMs,
		DurationMs: endMs - startMs,
		Distance:   speed.TimeWeightedSum / 1000,
	}
	if hr.HasData() {
		l.HeartRateMin = hr.Min
		l.HeartRateAvg = hr.TimeWeightedAvg
		l.HeartRateMax = hr.Max
	}
	if speed.HasData() {
		l.SpeedMin = speed.Min
		l.SpeedAvg = speed.TimeWeightedAvg
		l.SpeedMax = speed.Max
	}
	return l
}

// buildStateLocked renders the display snapshot at nowMs. Must be called
// with mu held.
func (s *Session) buildStateLocked(nowMs int64) State {
	state := State{
		Status:     s.status,
		ActivityID: s.id,
		LapNumber:  s.lapNumber,
	}

	if s.status == StatusIdle {
		state.Duration = Metric{Lap: units.FormatDurationMS(0), Total: units.FormatDurationHMS(0)}
		state.Distance = Metric{Lap: s.pref.FormatDistance(0), Total: s.pref.FormatDistance(0)}
		state.Speed = Metric{Lap: s.pref.FormatSpeed(0), Total: s.pref.FormatSpeed(0)}
		state.HeartRate = Metric{Lap: "0", Total: "0"}
		return state
	}

	refMs := nowMs
	if s.status == StatusPaused {
		refMs = s.pausedAtMs
	} else if s.status == StatusStopped {
		refMs = s.endMs
	}

	state.Duration = Metric{
		Lap:   units.FormatDurationMS(refMs - s.lapStartMs),
		Total: units.FormatDurationHMS(refMs - s.startMs),
	}
	state.Distance = Metric{
		Lap:   s.pref.FormatDistance(s.speedSink.Lap.TimeWeightedSum / 1000),
		Total: s.pref.FormatDistance(s.speedSink.Total.TimeWeightedSum / 1000),
	}
	state.Speed = Metric{
		Lap:   s.pref.FormatSpeed(s.speedSink.Lap.TimeWeightedAvg),
		Total: s.pref.FormatSpeed(s.speedSink.Total.TimeWeightedAvg),
	}
	state.HeartRate = Metric{
		Lap:   formatHeartRate(s.hrSink.Lap),
		Total: formatHeartRate(s.hrSink.Total),
	}
	return state
}

func formatHeartRate(a stats.Aggregate) string {
	if !a.HasData() {
		return "0"
	}
	return fmt.Sprintf("%d", int(math.Round(a.TimeWeightedAvg)))
}

// persistAsync runs one storage call off the loop goroutine, logging failure.
func (s *Session) persistAsync(what string, fn func() error) {
	s.wg.Add(1)
	goutil.SafeGo(s.logger, func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.logger.Printf("activity: %s failed: %v", what, err)
		}
	})
}
