package hrm

// Bluetooth SIG assigned numbers for the Heart Rate Service.
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
const (
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"
)

// Heart Rate Measurement flag bits.
const (
	hrFlagFormat16Bit           = 1 << 0 // 0 = UINT8 value, 1 = UINT16
	hrFlagSensorContactDetected = 1 << 1
	hrFlagSensorContactSupport  = 1 << 2
	hrFlagEnergyExpended        = 1 << 3
	hrFlagRRIntervals           = 1 << 4
)

// Measurement is one decoded Heart Rate Measurement notification. Only
// HeartRate drives the monitor state machine; the remaining fields are
// decoded for completeness.
type Measurement struct {
	HeartRate              int // beats per minute
	SensorContactSupported bool
	SensorContactDetected  bool
	RRIntervalsMs          []float64
}

// DecodeMeasurement parses a Heart Rate Measurement characteristic payload.
// Returns ok=false for a buffer too short to contain a value; a malformed
// tail truncates the RR-interval list rather than failing the decode.
//
// Layout: flag byte, then the heart rate as UINT8 or little-endian UINT16
// depending on flag bit 0, then successive little-endian UINT16 RR intervals
// in 1/1024s units.
func DecodeMeasurement(buf []byte) (Measurement, bool) {
	if len(buf) < 2 {
		return Measurement{}, false
	}

	flags := buf[0]
	m := Measurement{
		SensorContactSupported: flags&hrFlagSensorContactSupport != 0,
		SensorContactDetected:  flags&hrFlagSensorContactDetected != 0,
	}

	idx := 1
	if flags&hrFlagFormat16Bit != 0 {
		if len(buf) < 3 {
			return Measurement{}, false
		}
		m.HeartRate = int(buf[idx]) | int(buf[idx+1])<<8
		idx += 2
	} else {
		m.HeartRate = int(buf[idx])
		idx++
	}

	for idx+1 < len(buf) {
		raw := int(buf[idx]) | int(buf[idx+1])<<8
		m.RRIntervalsMs = append(m.RRIntervalsMs, float64(raw)/1024*1000)
		idx += 2
	}

	return m, true
}
