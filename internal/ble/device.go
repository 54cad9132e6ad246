package ble

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gigilibala/happyrunner-sub000/internal/safemap"

	"tinygo.org/x/bluetooth"
)

// Device is one peripheral tracked by a Manager.
type Device interface {
	Address() string
	Name() string
	RSSI() int16
	IsConnected() bool
	HasService(uuid string) bool
	WaitForConnection(timeout time.Duration) error
	EnableNotifications(serviceUUID, characteristicUUID string, fn func(buf []byte)) error
	DisableNotifications(serviceUUID, characteristicUUID string) error
}

type device struct {
	logger     *log.Logger
	address    bluetooth.Address
	staleAfter time.Duration

	mu         sync.RWMutex
	scanResult *bluetooth.ScanResult
	connected  *bluetooth.Device // nil while not connected
	lastSeen   time.Time
	serviceIDs []string

	// gattMu guards the discovery caches below and serializes GATT
	// operations: interleaved discovery requests confuse some peripheral
	// stacks.
	gattMu             sync.Mutex
	services           *safemap.SafeMap[string, *bluetooth.DeviceService]
	characteristics    *safemap.SafeMap[string, *bluetooth.DeviceCharacteristic]
	servicesDiscovered bool
	charsDiscovered    *safemap.SafeMap[string, bool]
}

func newDevice(logger *log.Logger, address bluetooth.Address, staleAfter time.Duration) *device {
	return &device{
		logger:          logger,
		address:         address,
		staleAfter:      staleAfter,
		services:        safemap.New[string, *bluetooth.DeviceService](),
		characteristics: safemap.New[string, *bluetooth.DeviceCharacteristic](),
		charsDiscovered: safemap.New[string, bool](),
	}
}

func (d *device) Address() string {
	return d.address.String()
}

func (d *device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.scanResult != nil {
		if name := d.scanResult.LocalName(); name != "" {
			return name
		}
	}
	return "Unknown"
}

func (d *device) RSSI() int16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.scanResult == nil {
		return 0
	}
	return d.scanResult.RSSI
}

func (d *device) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected != nil
}

func (d *device) HasService(uuid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.serviceIDs {
		if id == uuid {
			return true
		}
	}
	return false
}

func (d *device) recentlySeen(now time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scanResult != nil && now.Sub(d.lastSeen) <= d.staleAfter
}

func (d *device) setScanResult(result *bluetooth.ScanResult, seen time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanResult = result
	d.lastSeen = seen
	if len(d.serviceIDs) == 0 {
		for _, uuid := range result.ServiceUUIDs() {
			d.serviceIDs = append(d.serviceIDs, uuid.String())
		}
	}
}

func (d *device) setConnected(dev *bluetooth.Device) {
	d.mu.Lock()
	d.connected = dev
	d.mu.Unlock()
	if dev == nil {
		d.resetDiscovery()
	}
}

// resetDiscovery purges the cached GATT handles. A fresh connection must
// rediscover; stale handles are unusable. Waits for any in-flight discovery,
// so a disconnect arriving mid-discovery cannot leave stale handles behind.
func (d *device) resetDiscovery() {
	d.gattMu.Lock()
	defer d.gattMu.Unlock()
	d.services = safemap.New[string, *bluetooth.DeviceService]()
	d.characteristics = safemap.New[string, *bluetooth.DeviceCharacteristic]()
	d.charsDiscovered = safemap.New[string, bool]()
	d.servicesDiscovered = false
}

func (d *device) connectedDevice() *bluetooth.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// WaitForConnection polls until the adapter connect handler reports this
// device connected, or the timeout elapses.
func (d *device) WaitForConnection(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ticker.C:
			if d.IsConnected() {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("timeout after %v waiting for connection to %s", timeout, d.Address())
		}
	}
}

// EnableNotifications subscribes fn to the characteristic's notification
// stream, discovering services and characteristics on first use.
func (d *device) EnableNotifications(serviceUUID, characteristicUUID string, fn func(buf []byte)) error {
	d.gattMu.Lock()
	defer d.gattMu.Unlock()

	char, err := d.characteristic(serviceUUID, characteristicUUID)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(fn); err != nil {
		return fmt.Errorf("enable notifications on %s: %w", characteristicUUID, err)
	}
	d.logger.Printf("ble: notifications enabled for %s on %s", characteristicUUID, d.Address())
	return nil
}

// DisableNotifications removes the subscription on the characteristic.
func (d *device) DisableNotifications(serviceUUID, characteristicUUID string) error {
	d.gattMu.Lock()
	defer d.gattMu.Unlock()

	char, err := d.characteristic(serviceUUID, characteristicUUID)
	if err != nil {
		return err
	}
	// A nil callback clears the subscription.
	if err := char.EnableNotifications(nil); err != nil {
		return fmt.Errorf("disable notifications on %s: %w", characteristicUUID, err)
	}
	d.logger.Printf("ble: notifications disabled for %s on %s", characteristicUUID, d.Address())
	return nil
}

// service returns the cached service handle, discovering all services at
// once on first use. Discovering services one at a time can interrupt an
// earlier service that is already in use.
func (d *device) service(serviceUUID string) (*bluetooth.DeviceService, error) {
	conn := d.connectedDevice()
	if conn == nil {
		return nil, errors.New("device not connected")
	}

	if svc, ok := d.services.Load(serviceUUID); ok {
		return svc, nil
	}

	if !d.servicesDiscovered {
		found, err := conn.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("discover services: %w", err)
		}
		for i := range found {
			svc := &found[i]
			d.services.Store(svc.UUID().String(), svc)
		}
		d.servicesDiscovered = true
	}

	svc, ok := d.services.Load(serviceUUID)
	if !ok {
		return nil, fmt.Errorf("service %s not found on device", serviceUUID)
	}
	return svc, nil
}

func characteristicKey(serviceUUID, characteristicUUID string) string {
	return serviceUUID + "_" + characteristicUUID
}

// characteristic returns the cached characteristic handle, discovering every
// characteristic of the owning service on first use.
func (d *device) characteristic(serviceUUID, characteristicUUID string) (*bluetooth.DeviceCharacteristic, error) {
	key := characteristicKey(serviceUUID, characteristicUUID)
	if char, ok := d.characteristics.Load(key); ok {
		return char, nil
	}

	if done, _ := d.charsDiscovered.Load(serviceUUID); !done {
		svc, err := d.service(serviceUUID)
		if err != nil {
			return nil, err
		}
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discover characteristics of %s: %w", serviceUUID, err)
		}
		for i := range found {
			char := &found[i]
			d.characteristics.Store(characteristicKey(serviceUUID, char.UUID().String()), char)
		}
		d.charsDiscovered.Store(serviceUUID, true)
	}

	char, ok := d.characteristics.Load(key)
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found in service %s", characteristicUUID, serviceUUID)
	}
	return char, nil
}
