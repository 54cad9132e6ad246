// Package sim provides hardware-free stand-ins for the BLE layer and the
// position provider, used in demo mode and tests.
package sim

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/gigilibala/happyrunner-sub000/internal/ble"
	"github.com/gigilibala/happyrunner-sub000/internal/events"
	"github.com/gigilibala/happyrunner-sub000/internal/goutil"
	"github.com/gigilibala/happyrunner-sub000/internal/hrm"
	"github.com/gigilibala/happyrunner-sub000/internal/location"
)

// Device simulates a heart-rate strap. It advertises only the Heart Rate
// service and, once notifications are enabled, emits one measurement per
// second with the value oscillating around a resting rate.
type Device struct {
	logger    *log.Logger
	address   string
	localName string

	mu        sync.RWMutex
	connected bool
	notifyFn  func([]byte)
	baseRate  int
	tick      int
}

var _ ble.Device = (*Device)(nil)

// NewDevice creates a simulated heart-rate device.
func NewDevice(logger *log.Logger, address, localName string, baseRate int) *Device {
	if logger == nil {
		panic("sim: logger cannot be nil")
	}
	return &Device{
		logger:    logger,
		address:   address,
		localName: localName,
		baseRate:  baseRate,
	}
}

func (d *Device) Address() string { return d.address }
func (d *Device) Name() string    { return d.localName }
func (d *Device) RSSI() int16     { return -50 }

func (d *Device) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Device) HasService(uuid string) bool {
	return uuid == hrm.ServiceUUIDHeartRate
}

func (d *Device) WaitForConnection(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.IsConnected() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("device %s not connected after %v", d.address, timeout)
}

func (d *Device) EnableNotifications(serviceUUID, characteristicUUID string, fn func(buf []byte)) error {
	if serviceUUID != hrm.ServiceUUIDHeartRate || characteristicUUID != hrm.CharUUIDHeartRateMeasurement {
		return fmt.Errorf("unknown service/characteristic: %s/%s", serviceUUID, characteristicUUID)
	}
	d.mu.Lock()
	d.notifyFn = fn
	d.mu.Unlock()
	d.logger.Printf("sim: heart rate notifications enabled on %s", d.localName)
	return nil
}

func (d *Device) DisableNotifications(serviceUUID, characteristicUUID string) error {
	if serviceUUID != hrm.ServiceUUIDHeartRate || characteristicUUID != hrm.CharUUIDHeartRateMeasurement {
		return fmt.Errorf("unknown service/characteristic: %s/%s", serviceUUID, characteristicUUID)
	}
	d.mu.Lock()
	d.notifyFn = nil
	d.mu.Unlock()
	d.logger.Printf("sim: heart rate notifications disabled on %s", d.localName)
	return nil
}

func (d *Device) setConnected(connected bool) {
	d.mu.Lock()
	d.connected = connected
	if !connected {
		d.notifyFn = nil
	}
	d.mu.Unlock()
}

// emit sends one Heart Rate Measurement notification if subscribed. The
// value walks a slow sine around the base rate so averages move in tests and
// demos.
func (d *Device) emit() {
	d.mu.Lock()
	fn := d.notifyFn
	d.tick++
	rate := d.baseRate + int(10*math.Sin(float64(d.tick)/10))
	d.mu.Unlock()

	if fn == nil {
		return
	}
	if rate > 0xFF {
		fn([]byte{0x01, byte(rate & 0xFF), byte(rate >> 8)})
		return
	}
	fn([]byte{0x00, byte(rate)})
}

// Manager simulates the BLE adapter. It fulfills the same contract as
// ble.AdapterManager so the heart-rate monitor runs unchanged on top of it.
type Manager struct {
	logger  *log.Logger
	devices []*Device

	mu       sync.RWMutex
	scanning bool

	deviceListEvent  *events.Channel[[]ble.Device]
	connectionsEvent *events.Channel[ble.ConnectionChange]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ble.Manager = (*Manager)(nil)

// NewManager creates a Manager with the given simulated devices. With none
// supplied it provides a single heart-rate strap.
func NewManager(logger *log.Logger, devices ...*Device) *Manager {
	if logger == nil {
		panic("sim: logger cannot be nil")
	}
	if len(devices) == 0 {
		devices = []*Device{NewDevice(logger, "00:11:22:33:44:01", "Sim HR Strap", 120)}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger:           logger,
		devices:          devices,
		deviceListEvent:  events.NewChannel[[]ble.Device](true),
		connectionsEvent: events.NewChannel[ble.ConnectionChange](false),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Enable starts the notification pump.
func (m *Manager) Enable() error {
	m.logger.Printf("sim: adapter enabled with %d device(s)", len(m.devices))

	m.wg.Add(1)
	goutil.SafeGo(m.logger, func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				for _, dev := range m.devices {
					if dev.IsConnected() {
						dev.emit()
					}
				}
				if m.IsScanning() {
					m.emitDeviceList()
				}
			}
		}
	})
	return nil
}

func (m *Manager) StartScan(serviceUUIDFilter []string) {
	m.mu.Lock()
	m.scanning = true
	m.mu.Unlock()
	m.logger.Printf("sim: scan started")
	m.emitDeviceList()
}

func (m *Manager) StopScan() error {
	m.mu.Lock()
	m.scanning = false
	m.mu.Unlock()
	m.logger.Printf("sim: scan stopped")
	return nil
}

func (m *Manager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

func (m *Manager) DeviceByAddress(address string) ble.Device {
	if d := m.deviceByAddress(address); d != nil {
		return d
	}
	return nil
}

func (m *Manager) deviceByAddress(address string) *Device {
	for _, dev := range m.devices {
		if dev.address == address {
			return dev
		}
	}
	return nil
}

func (m *Manager) Connect(address string) error {
	dev := m.deviceByAddress(address)
	if dev == nil {
		return fmt.Errorf("unknown device: %s", address)
	}
	dev.setConnected(true)
	m.connectionsEvent.Notify(ble.ConnectionChange{Address: address, Connected: true})
	m.logger.Printf("sim: connected to %s", dev.localName)
	return nil
}

func (m *Manager) Disconnect(address string) error {
	dev := m.deviceByAddress(address)
	if dev == nil {
		return fmt.Errorf("unknown device: %s", address)
	}
	dev.setConnected(false)
	m.connectionsEvent.Notify(ble.ConnectionChange{Address: address, Connected: false})
	m.logger.Printf("sim: disconnected from %s", dev.localName)
	return nil
}

func (m *Manager) ListenToDeviceList(ch chan<- []ble.Device) func() {
	return m.deviceListEvent.Listen(ch)
}

func (m *Manager) ListenToConnections(ch chan<- ble.ConnectionChange) func() {
	return m.connectionsEvent.Listen(ch)
}

func (m *Manager) Shutdown() {
	m.logger.Printf("sim: shutting down")
	for _, dev := range m.devices {
		dev.setConnected(false)
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Printf("sim: shutdown complete")
}

func (m *Manager) emitDeviceList() {
	list := make([]ble.Device, len(m.devices))
	for i, dev := range m.devices {
		list[i] = dev
	}
	m.deviceListEvent.Notify(list)
}

// LocationProvider replays a straight northbound walk from a fixed origin at
// a configurable pace. One position is produced per interval.
type LocationProvider struct {
	logger *log.Logger

	// SpeedMetersPerSecond sets the simulated pace. Zero means the default
	// easy run of 3 m/s.
	SpeedMetersPerSecond float64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ location.Provider = (*LocationProvider)(nil)

// Degrees of latitude per meter, close enough off the poles.
const latDegPerMeter = 1.0 / 111320.0

const (
	simOriginLat = 37.77
	simOriginLon = -122.42
)

// NewLocationProvider creates a simulated position source.
func NewLocationProvider(logger *log.Logger) *LocationProvider {
	if logger == nil {
		panic("sim: logger cannot be nil")
	}
	return &LocationProvider{logger: logger}
}

func (p *LocationProvider) Start(opts location.Options, fn func(location.Position)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("position watch already started")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	speed := p.SpeedMetersPerSecond
	if speed <= 0 {
		speed = 3.0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	goutil.SafeGo(p.logger, func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		start := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				meters := speed * now.Sub(start).Seconds()
				fn(location.Position{
					Latitude:  simOriginLat + meters*latDegPerMeter,
					Longitude: simOriginLon,
					Timestamp: now,
				})
			}
		}
	})

	p.logger.Printf("sim: position watch started at %.1f m/s", speed)
	return nil
}

func (p *LocationProvider) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	p.wg.Wait()
	p.logger.Printf("sim: position watch stopped")
	return nil
}
