// Package ble wraps tinygo.org/x/bluetooth behind interfaces small enough to
// fake in tests. The adapter is a process-wide singleton resource; exactly
// one Manager owns it and serializes scan/connect access to it.
package ble

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gigilibala/happyrunner-sub000/internal/events"
	"github.com/gigilibala/happyrunner-sub000/internal/goutil"

	"tinygo.org/x/bluetooth"
)

// Manager is the surface the heart-rate layer consumes. Implemented by
// AdapterManager for real hardware and by sim.Manager for tests and demo
// mode.
type Manager interface {
	Enable() error
	StartScan(serviceUUIDFilter []string)
	StopScan() error
	IsScanning() bool
	DeviceByAddress(address string) Device
	Connect(address string) error
	Disconnect(address string) error
	ListenToDeviceList(ch chan<- []Device) func()
	ListenToConnections(ch chan<- ConnectionChange) func()
	Shutdown()
}

// ConnectionChange reports a device-level connect or disconnect observed on
// the adapter.
type ConnectionChange struct {
	Address   string
	Connected bool
}

var _ Manager = (*AdapterManager)(nil)

// AdapterManager drives a real Bluetooth adapter.
type AdapterManager struct {
	adapter     *bluetooth.Adapter
	logger      *log.Logger
	staleAfter  time.Duration
	mu          sync.RWMutex
	devices     map[string]*device
	scanning    bool
	scanCtx     context.Context
	scanCancel  context.CancelFunc
	deviceList  *events.Channel[[]Device]
	connections *events.Channel[ConnectionChange]
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewAdapterManager wraps adapter. staleAfter bounds how long a scanned
// device stays listed after it was last advertised; zero selects 10s.
func NewAdapterManager(adapter *bluetooth.Adapter, logger *log.Logger, staleAfter time.Duration) *AdapterManager {
	if adapter == nil {
		panic("ble: adapter cannot be nil")
	}
	if logger == nil {
		panic("ble: logger cannot be nil")
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AdapterManager{
		adapter:     adapter,
		logger:      logger,
		staleAfter:  staleAfter,
		devices:     make(map[string]*device),
		deviceList:  events.NewChannel[[]Device](true),
		connections: events.NewChannel[ConnectionChange](false),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enable powers up the adapter and installs the connection handler. An error
// here means Bluetooth is unavailable to the process: adapter off, missing
// permission, or no adapter at all.
func (m *AdapterManager) Enable() error {
	m.adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		addr := dev.Address.String()
		m.mu.Lock()
		d := m.deviceLocked(dev.Address)
		m.mu.Unlock()

		// Outside the manager lock: a disconnect waits for in-flight GATT
		// discovery before purging the handle caches.
		if connected {
			d.setConnected(&dev)
		} else {
			d.setConnected(nil)
		}

		m.logger.Printf("ble: device %s connected=%v", addr, connected)
		m.connections.Notify(ConnectionChange{Address: addr, Connected: connected})
	})

	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	return nil
}

// deviceLocked returns the tracked device for address, creating it if new.
// Caller holds mu.
func (m *AdapterManager) deviceLocked(address bluetooth.Address) *device {
	addr := address.String()
	d, ok := m.devices[addr]
	if !ok {
		d = newDevice(m.logger, address, m.staleAfter)
		m.devices[addr] = d
	}
	return d
}

// StartScan begins advertising discovery filtered to the given service UUIDs
// (nil scans everything). A running scan is restarted with the new filter.
func (m *AdapterManager) StartScan(serviceUUIDFilter []string) {
	filter := make(map[string]struct{}, len(serviceUUIDFilter))
	for _, u := range serviceUUIDFilter {
		filter[u] = struct{}{}
	}

	m.mu.Lock()
	restart := m.scanning && m.scanCancel != nil
	if restart {
		m.scanCancel()
	}
	m.scanning = true
	m.scanCtx, m.scanCancel = context.WithCancel(m.ctx)
	scanCtx := m.scanCtx
	m.mu.Unlock()

	if restart {
		m.logger.Printf("ble: restarting running scan with new filter")
		// The old blocking Scan call must return before the adapter accepts a
		// new one.
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("ble: stop scan for restart: %v", err)
		}
	}

	m.wg.Add(1)
	goutil.SafeGo(m.logger, func() {
		defer m.wg.Done()
		m.pruneStaleDevices(scanCtx)
	})

	m.wg.Add(1)
	goutil.SafeGo(m.logger, func() {
		defer m.wg.Done()
		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-scanCtx.Done():
				return
			default:
			}
			if len(filter) > 0 {
				found := false
				for _, uuid := range result.ServiceUUIDs() {
					if _, ok := filter[uuid.String()]; ok {
						found = true
						break
					}
				}
				if !found {
					return
				}
			}

			m.mu.Lock()
			d := m.deviceLocked(result.Address)
			isNew := d.lastSeen.IsZero()
			d.setScanResult(&result, time.Now())
			m.mu.Unlock()

			if isNew {
				m.logger.Printf("ble: found device %s (%s) rssi=%d",
					d.Name(), d.Address(), result.RSSI)
			}
		})
		if err != nil {
			m.logger.Printf("ble: scan error: %v", err)
		}
	})

	m.wg.Add(1)
	goutil.SafeGo(m.logger, func() {
		defer m.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-scanCtx.Done():
				return
			case <-ticker.C:
				m.deviceList.Notify(m.ScannedDevices())
			}
		}
	})
}

// pruneStaleDevices drops devices not advertised within staleAfter.
func (m *AdapterManager) pruneStaleDevices(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for addr, d := range m.devices {
				if !d.IsConnected() && !d.lastSeen.IsZero() && now.Sub(d.lastSeen) > m.staleAfter {
					delete(m.devices, addr)
					m.logger.Printf("ble: device %s timed out of scan list", addr)
				}
			}
			m.mu.Unlock()
		}
	}
}

// StopScan stops discovery.
func (m *AdapterManager) StopScan() error {
	m.mu.Lock()
	m.scanning = false
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
	m.mu.Unlock()
	return m.adapter.StopScan()
}

// IsScanning reports whether discovery is running.
func (m *AdapterManager) IsScanning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanning
}

// DeviceByAddress returns the tracked device, or nil if unknown.
func (m *AdapterManager) DeviceByAddress(address string) Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[address]
	if !ok {
		return nil
	}
	return d
}

// Connect initiates a connection. Completion is reported asynchronously via
// the adapter connect handler; callers wait with Device.WaitForConnection.
func (m *AdapterManager) Connect(address string) error {
	m.mu.RLock()
	d, ok := m.devices[address]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown device %s", address)
	}

	m.logger.Printf("ble: connecting to %s", address)
	if _, err := m.adapter.Connect(d.address, bluetooth.ConnectionParams{}); err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}
	return nil
}

// Disconnect tears down an established connection. Disconnecting a device
// that is not connected is a no-op.
func (m *AdapterManager) Disconnect(address string) error {
	m.mu.RLock()
	d, ok := m.devices[address]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown device %s", address)
	}

	conn := d.connectedDevice()
	if conn == nil {
		return nil
	}
	m.logger.Printf("ble: disconnecting from %s", address)
	return conn.Disconnect()
}

// ScannedDevices returns the devices seen recently during the current scan.
func (m *AdapterManager) ScannedDevices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		if d.recentlySeen(time.Now()) {
			result = append(result, d)
		}
	}
	return result
}

// ListenToDeviceList registers ch for scan device list snapshots (emitted at
// most once per second). Returns a deregistration function.
func (m *AdapterManager) ListenToDeviceList(ch chan<- []Device) func() {
	return m.deviceList.Listen(ch)
}

// ListenToConnections registers ch for connect/disconnect notifications.
// Returns a deregistration function.
func (m *AdapterManager) ListenToConnections(ch chan<- ConnectionChange) func() {
	return m.connections.Listen(ch)
}

// Shutdown disconnects everything, stops scanning, and waits for the
// goroutines to exit.
func (m *AdapterManager) Shutdown() {
	m.logger.Printf("ble: shutting down")

	m.mu.RLock()
	addrs := make([]string, 0, len(m.devices))
	for addr, d := range m.devices {
		if d.IsConnected() {
			addrs = append(addrs, addr)
		}
	}
	m.mu.RUnlock()

	for _, addr := range addrs {
		if err := m.Disconnect(addr); err != nil {
			m.logger.Printf("ble: disconnect %s during shutdown: %v", addr, err)
		}
	}
	if err := m.StopScan(); err != nil {
		m.logger.Printf("ble: stop scan during shutdown: %v", err)
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Printf("ble: shutdown complete")
}
