// Package units converts raw SI quantities (meters, meters/second,
// milliseconds) into user-facing display values. All state in the rest of the
// system stays in SI; these transforms are applied only at presentation time
// and when parsing user speed input back into SI.
package units

import (
	"fmt"
	"math"
)

// DistanceUnit selects the display distance unit.
type DistanceUnit string

const (
	DistanceKilometers DistanceUnit = "kilometers"
	DistanceMiles      DistanceUnit = "miles"
)

// SpeedMode selects between absolute speed and pace-per-distance display.
type SpeedMode string

const (
	SpeedModeSpeed SpeedMode = "speed"
	SpeedModePace  SpeedMode = "pace"
)

// Preference is the user's display unit selection. Read-only to the core;
// owned by the preferences store.
type Preference struct {
	Distance DistanceUnit `json:"distance"`
	Speed    SpeedMode    `json:"speed"`
}

// DefaultPreference matches a fresh install.
func DefaultPreference() Preference {
	return Preference{Distance: DistanceKilometers, Speed: SpeedModePace}
}

// Unit-length constants. 1609 is the statute mile approximation the stored
// data was produced with; kept as-is rather than 1609.344 so displayed values
// stay byte-compatible with historical records.
const (
	metersPerKilometer = 1000.0
	metersPerMile      = 1609.0

	mpsToKmh = 3.6
	mpsToMph = 2.23694
)

func (p Preference) unitLengthMeters() float64 {
	if p.Distance == DistanceMiles {
		return metersPerMile
	}
	return metersPerKilometer
}

func (p Preference) speedFactor() float64 {
	if p.Distance == DistanceMiles {
		return mpsToMph
	}
	return mpsToKmh
}

// ToDisplaySpeed converts a raw speed in m/s to the display number: km/h or
// mph rounded to one decimal in speed mode, minutes per unit distance in pace
// mode. Non-positive raw speeds display as 0.
func (p Preference) ToDisplaySpeed(rawMps float64) float64 {
	if rawMps <= 0 {
		return 0
	}
	if p.Speed == SpeedModeSpeed {
		return math.Round(rawMps*p.speedFactor()*10) / 10
	}
	return p.unitLengthMeters() / (rawMps * 60)
}

// ToRawSpeed is the inverse of ToDisplaySpeed, used when the user edits a
// speed in display units. Non-positive display values map to 0.
func (p Preference) ToRawSpeed(display float64) float64 {
	if display <= 0 {
		return 0
	}
	if p.Speed == SpeedModeSpeed {
		return display / p.speedFactor()
	}
	return p.unitLengthMeters() / (display * 60)
}

// FormatSpeed renders the display speed as a string: one decimal in speed
// mode, MM:SS per unit distance in pace mode.
func (p Preference) FormatSpeed(rawMps float64) string {
	disp := p.ToDisplaySpeed(rawMps)
	if p.Speed == SpeedModeSpeed {
		return fmt.Sprintf("%.1f", disp)
	}
	return formatMinutes(disp)
}

// ToDisplayDistance converts raw meters to the display distance rounded to
// two decimals.
func (p Preference) ToDisplayDistance(rawMeters float64) float64 {
	if rawMeters <= 0 {
		return 0
	}
	return math.Round(rawMeters/p.unitLengthMeters()*100) / 100
}

// FormatDistance renders the display distance with two decimals.
func (p Preference) FormatDistance(rawMeters float64) string {
	return fmt.Sprintf("%.2f", p.ToDisplayDistance(rawMeters))
}

// FormatDurationHMS renders a millisecond duration as HH:MM:SS. Used for the
// whole-activity clock.
func FormatDurationHMS(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatDurationMS renders a millisecond duration as MM:SS. Used for the lap
// clock; minutes roll past 59 rather than wrapping.
func FormatDurationMS(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	m := totalSeconds / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}

// formatMinutes renders a decimal minute quantity (pace) as MM:SS.
func formatMinutes(minutes float64) string {
	if minutes <= 0 {
		return "00:00"
	}
	totalSeconds := int64(math.Round(minutes * 60))
	return fmt.Sprintf("%02d:%02d", totalSeconds/60, totalSeconds%60)
}
