// Package hrm owns the heart-rate-monitor connection lifecycle: adapter
// bring-up, scanning for devices advertising the Heart Rate service,
// connecting and subscribing to the measurement characteristic, and decoding
// its notifications into beats-per-minute samples.
package hrm

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gigilibala/happyrunner-sub000/internal/ble"
	"github.com/gigilibala/happyrunner-sub000/internal/events"
	"github.com/gigilibala/happyrunner-sub000/internal/goutil"
)

// Status is the monitor's connection phase.
type Status int

const (
	StatusUninitialized Status = iota
	StatusIdle
	StatusScanning
	StatusConnecting
	StatusConnected
	StatusDisconnecting
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusIdle:
		return "idle"
	case StatusScanning:
		return "scanning"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// DeviceInfo describes one discovered heart-rate device.
type DeviceInfo struct {
	Address string
	Name    string
	RSSI    int16
}

// State is the snapshot published to listeners after every transition.
type State struct {
	Status    Status
	Enabled   bool // false when the adapter is off or permission was denied
	IsLoading bool // a connect or disconnect is in flight
	Devices   []DeviceInfo
	Device    *DeviceInfo // the connected device, nil otherwise
	HeartRate int         // most recent decoded value, 0 before the first one
}

// Sample is one decoded heart-rate reading pushed to sample listeners.
type Sample struct {
	HeartRate int
	Timestamp time.Time
}

// Preferences persists the last connected device so the next launch can
// auto-target it.
type Preferences interface {
	LastDeviceAddress() string
	SetLastDeviceAddress(address string)
}

const connectTimeout = 10 * time.Second

// Monitor is the heart-rate-monitor state machine. All transitions are
// guarded by status/isLoading rather than long-held locks; asynchronous work
// completes by dispatching a follow-up transition.
type Monitor struct {
	manager ble.Manager
	prefs   Preferences
	logger  *log.Logger

	mu    sync.RWMutex
	state State

	stateEvent  *events.Channel[State]
	sampleEvent *events.Callback[Sample]

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	initOnce sync.Once
}

// NewMonitor creates a Monitor over the given BLE manager. Initialize must be
// called before any other operation.
func NewMonitor(manager ble.Manager, prefs Preferences, logger *log.Logger) *Monitor {
	if manager == nil {
		panic("hrm: manager cannot be nil")
	}
	if prefs == nil {
		panic("hrm: prefs cannot be nil")
	}
	if logger == nil {
		panic("hrm: logger cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		manager:     manager,
		prefs:       prefs,
		logger:      logger,
		state:       State{Status: StatusUninitialized},
		stateEvent:  events.NewChannel[State](true),
		sampleEvent: events.NewCallback[Sample](),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Initialize enables the adapter and begins watching device discovery and
// connection changes. Safe to call more than once; only the first call has
// effect. An adapter that cannot be enabled (powered off, permission denied)
// leaves the monitor disabled rather than failing.
func (m *Monitor) Initialize() {
	m.initOnce.Do(func() {
		if err := m.manager.Enable(); err != nil {
			m.logger.Printf("hrm: adapter enable failed, monitor disabled: %v", err)
			m.setState(func(s *State) {
				s.Enabled = false
				s.Status = StatusIdle
			})
			return
		}

		m.setState(func(s *State) {
			s.Enabled = true
			s.Status = StatusIdle
		})

		m.wg.Add(1)
		goutil.SafeGo(m.logger, func() {
			defer m.wg.Done()
			m.watchDeviceList()
		})
		m.wg.Add(1)
		goutil.SafeGo(m.logger, func() {
			defer m.wg.Done()
			m.watchConnections()
		})
	})
}

// PreferredDeviceAddress returns the address persisted from the previous
// connection, or empty when none exists.
func (m *Monitor) PreferredDeviceAddress() string {
	return m.prefs.LastDeviceAddress()
}

// Scan begins discovery of devices advertising the Heart Rate service.
// No-op unless the monitor is enabled and not already scanning.
func (m *Monitor) Scan() {
	if !m.transition(func(s State) bool {
		return s.Enabled && s.Status != StatusScanning && s.Status != StatusConnected
	}, func(s *State) {
		s.Status = StatusScanning
		s.Devices = nil
	}) {
		return
	}
	m.logger.Printf("hrm: scan started")
	m.manager.StartScan([]string{ServiceUUIDHeartRate})
}

// StopScan ends discovery and clears the device list.
func (m *Monitor) StopScan() {
	if !m.transition(func(s State) bool {
		return s.Enabled && s.Status == StatusScanning
	}, func(s *State) {
		s.Status = StatusIdle
		s.Devices = nil
	}) {
		return
	}
	if err := m.manager.StopScan(); err != nil {
		m.logger.Printf("hrm: stop scan: %v", err)
	}
	m.logger.Printf("hrm: scan stopped")
}

// Connect asynchronously connects to the device and subscribes to the Heart
// Rate Measurement characteristic. Guarded against concurrent loads and
// double connects; completion or failure is observed through the state event.
func (m *Monitor) Connect(address string) {
	if !m.transition(func(s State) bool {
		return s.Enabled && !s.IsLoading && s.Status != StatusConnected
	}, func(s *State) {
		s.IsLoading = true
		s.Status = StatusConnecting
	}) {
		return
	}

	m.wg.Add(1)
	goutil.SafeGo(m.logger, func() {
		defer m.wg.Done()
		m.connect(address)
	})
}

func (m *Monitor) connect(address string) {
	if m.manager.IsScanning() {
		if err := m.manager.StopScan(); err != nil {
			m.logger.Printf("hrm: stop scan before connect: %v", err)
		}
	}

	fail := func(err error) {
		m.logger.Printf("hrm: connect %s failed: %v", address, err)
		m.setState(func(s *State) {
			s.IsLoading = false
			s.Status = StatusIdle
			s.Device = nil
		})
	}

	dev := m.manager.DeviceByAddress(address)
	if dev == nil {
		fail(errUnknownDevice(address))
		return
	}
	if err := m.manager.Connect(address); err != nil {
		fail(err)
		return
	}
	if err := dev.WaitForConnection(connectTimeout); err != nil {
		fail(err)
		return
	}
	if err := dev.EnableNotifications(ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement, m.onNotification); err != nil {
		// Half-open connection is useless; tear it down best effort.
		if derr := m.manager.Disconnect(address); derr != nil {
			m.logger.Printf("hrm: disconnect after subscribe failure: %v", derr)
		}
		fail(err)
		return
	}

	info := &DeviceInfo{Address: dev.Address(), Name: dev.Name(), RSSI: dev.RSSI()}
	m.setState(func(s *State) {
		s.IsLoading = false
		s.Status = StatusConnected
		s.Device = info
		s.Devices = nil
	})
	m.prefs.SetLastDeviceAddress(address)
	m.logger.Printf("hrm: connected to %s (%s)", info.Name, info.Address)
}

// Disconnect asynchronously tears down the subscription and connection.
// Always resolves to idle, even when the transport errors out.
func (m *Monitor) Disconnect() {
	var address string
	if !m.transition(func(s State) bool {
		return s.Enabled && !s.IsLoading && s.Device != nil
	}, func(s *State) {
		s.IsLoading = true
		s.Status = StatusDisconnecting
		address = s.Device.Address
	}) {
		return
	}

	m.wg.Add(1)
	goutil.SafeGo(m.logger, func() {
		defer m.wg.Done()
		m.disconnect(address)
	})
}

func (m *Monitor) disconnect(address string) {
	if dev := m.manager.DeviceByAddress(address); dev != nil && dev.IsConnected() {
		if err := dev.DisableNotifications(ServiceUUIDHeartRate, CharUUIDHeartRateMeasurement); err != nil {
			m.logger.Printf("hrm: disable notifications: %v", err)
		}
	}
	if err := m.manager.Disconnect(address); err != nil {
		m.logger.Printf("hrm: disconnect %s: %v", address, err)
	}

	m.setState(func(s *State) {
		s.IsLoading = false
		s.Status = StatusIdle
		s.Device = nil
		s.HeartRate = 0
	})
	m.logger.Printf("hrm: disconnected from %s", address)
}

// HeartRate returns the latest decoded value. ok is false until a
// measurement has arrived on the current connection.
func (m *Monitor) HeartRate() (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.HeartRate, m.state.Status == StatusConnected && m.state.HeartRate > 0
}

// GetState returns the current state snapshot.
func (m *Monitor) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ListenToState registers ch for state snapshots. The current state is
// replayed to new listeners. Returns a deregistration function.
func (m *Monitor) ListenToState(ch chan<- State) func() {
	return m.stateEvent.Listen(ch)
}

// ListenToSamples registers fn for decoded heart-rate samples.
// Returns a deregistration function.
func (m *Monitor) ListenToSamples(fn func(Sample)) func() {
	return m.sampleEvent.Listen(fn)
}

// Shutdown disconnects, cancels the watchers, and waits for them.
func (m *Monitor) Shutdown() {
	m.logger.Printf("hrm: shutting down")
	state := m.GetState()
	if state.Device != nil {
		m.disconnect(state.Device.Address)
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Printf("hrm: shutdown complete")
}

// onNotification handles one raw characteristic notification. Malformed or
// empty buffers are dropped without error per the Heart Rate service's
// tolerance for sparse sensors.
func (m *Monitor) onNotification(buf []byte) {
	meas, ok := DecodeMeasurement(buf)
	if !ok {
		m.logger.Printf("hrm: dropping malformed measurement (%d bytes)", len(buf))
		return
	}

	m.setState(func(s *State) {
		s.HeartRate = meas.HeartRate
	})
	m.sampleEvent.Notify(Sample{HeartRate: meas.HeartRate, Timestamp: time.Now()})
}

// watchDeviceList mirrors the manager's scan results into the state while
// scanning.
func (m *Monitor) watchDeviceList() {
	ch := make(chan []ble.Device, 1)
	unregister := m.manager.ListenToDeviceList(ch)
	defer unregister()

	for {
		select {
		case <-m.ctx.Done():
			return
		case devices, ok := <-ch:
			if !ok {
				return
			}
			if m.GetState().Status != StatusScanning {
				continue
			}
			infos := make([]DeviceInfo, 0, len(devices))
			for _, d := range devices {
				infos = append(infos, DeviceInfo{Address: d.Address(), Name: d.Name(), RSSI: d.RSSI()})
			}
			m.setState(func(s *State) {
				s.Devices = infos
			})
		}
	}
}

// watchConnections drops the monitor back to idle when the peripheral
// disconnects underneath us (range, battery).
func (m *Monitor) watchConnections() {
	ch := make(chan ble.ConnectionChange, 4)
	unregister := m.manager.ListenToConnections(ch)
	defer unregister()

	for {
		select {
		case <-m.ctx.Done():
			return
		case change, ok := <-ch:
			if !ok {
				return
			}
			if change.Connected {
				continue
			}
			m.transition(func(s State) bool {
				return s.Status == StatusConnected && s.Device != nil && s.Device.Address == change.Address
			}, func(s *State) {
				s.Status = StatusIdle
				s.Device = nil
				s.HeartRate = 0
				m.logger.Printf("hrm: device %s dropped connection", change.Address)
			})
		}
	}
}

// transition applies mutate under lock if guard passes, then publishes the
// new state. Returns whether the guard passed.
func (m *Monitor) transition(guard func(State) bool, mutate func(*State)) bool {
	m.mu.Lock()
	if !guard(m.state) {
		m.mu.Unlock()
		return false
	}
	mutate(&m.state)
	state := m.state
	m.mu.Unlock()

	m.stateEvent.Notify(state)
	return true
}

// setState applies mutate under lock and publishes the new state.
func (m *Monitor) setState(mutate func(*State)) {
	m.mu.Lock()
	mutate(&m.state)
	state := m.state
	m.mu.Unlock()

	m.stateEvent.Notify(state)
}

type errUnknownDevice string

func (e errUnknownDevice) Error() string {
	return "unknown device " + string(e)
}
