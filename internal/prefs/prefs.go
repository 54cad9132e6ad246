// Package prefs is the JSON file-backed preferences collaborator: a small
// typed wrapper around a key-value file holding the unit preference and the
// last connected heart-rate device.
package prefs

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/gigilibala/happyrunner-sub000/internal/units"
)

type data struct {
	Units             units.Preference `json:"units"`
	LastDeviceAddress string           `json:"last_device_address"`
}

// Prefs loads on creation and saves on every mutation. Missing or corrupt
// files fall back to defaults rather than failing.
type Prefs struct {
	filePath string
	logger   *log.Logger

	mu   sync.RWMutex
	data data
}

// New creates a Prefs backed by the file at filePath. An empty filePath uses
// the default location under the user's home directory.
func New(filePath string, logger *log.Logger) *Prefs {
	if logger == nil {
		panic("prefs: logger cannot be nil")
	}
	if filePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		filePath = filepath.Join(homeDir, ".happyrunner", "prefs.json")
	}
	p := &Prefs{filePath: filePath, logger: logger}
	p.load()
	return p
}

// Units returns the stored unit preference.
func (p *Prefs) Units() units.Preference {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.Units
}

// SetUnits stores the unit preference.
func (p *Prefs) SetUnits(pref units.Preference) {
	p.mu.Lock()
	p.data.Units = pref
	p.mu.Unlock()
	p.save()
}

// LastDeviceAddress returns the previously connected heart-rate device
// address, empty when none was saved.
func (p *Prefs) LastDeviceAddress() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data.LastDeviceAddress
}

// SetLastDeviceAddress stores the connected device address.
func (p *Prefs) SetLastDeviceAddress(address string) {
	p.mu.Lock()
	p.data.LastDeviceAddress = address
	p.mu.Unlock()
	p.save()
}

func (p *Prefs) load() {
	p.data = data{Units: units.DefaultPreference()}
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("prefs: load %s (no existing file)", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("prefs: load %s failed to parse: %v", p.filePath, err)
		p.data = data{Units: units.DefaultPreference()}
		return
	}
	if p.data.Units.Distance == "" || p.data.Units.Speed == "" {
		p.data.Units = units.DefaultPreference()
	}
	p.logger.Printf("prefs: loaded %s", p.filePath)
}

func (p *Prefs) save() {
	p.mu.RLock()
	raw, err := json.MarshalIndent(p.data, "", "  ")
	p.mu.RUnlock()
	if err != nil {
		p.logger.Printf("prefs: save marshal failed: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0o755); err != nil {
		p.logger.Printf("prefs: save mkdir failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0o644); err != nil {
		p.logger.Printf("prefs: save %s failed: %v", p.filePath, err)
		return
	}
}
