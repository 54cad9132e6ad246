package ble

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"tinygo.org/x/bluetooth"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

const (
	testServiceUUID = "0000180d-0000-1000-8000-00805f9b34fb"
	testCharUUID    = "00002a37-0000-1000-8000-00805f9b34fb"
)

// A peripheral dropping the link while a subscribe is mid-discovery must not
// corrupt the handle caches. Run with -race.
func TestDeviceDisconnectDuringSubscribe(t *testing.T) {
	d := newDevice(quietLogger(), bluetooth.Address{}, time.Second)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			// Not connected, so this fails fast after walking the caches.
			_ = d.EnableNotifications(testServiceUUID, testCharUUID, func([]byte) {})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.setConnected(nil)
		}
	}()
	wg.Wait()

	assert.False(t, d.IsConnected())
	err := d.EnableNotifications(testServiceUUID, testCharUUID, func([]byte) {})
	assert.Error(t, err)
}

func TestDeviceResetDiscoveryEmptiesCaches(t *testing.T) {
	d := newDevice(quietLogger(), bluetooth.Address{}, time.Second)

	var svc bluetooth.DeviceService
	d.services.Store(testServiceUUID, &svc)
	d.servicesDiscovered = true
	var char bluetooth.DeviceCharacteristic
	d.characteristics.Store(characteristicKey(testServiceUUID, testCharUUID), &char)
	d.charsDiscovered.Store(testServiceUUID, true)

	d.setConnected(nil)

	assert.Equal(t, 0, d.services.Len())
	assert.Equal(t, 0, d.characteristics.Len())
	assert.Equal(t, 0, d.charsDiscovered.Len())
	assert.False(t, d.servicesDiscovered)
}
