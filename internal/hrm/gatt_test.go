package hrm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMeasurement8Bit(t *testing.T) {
	meas, ok := DecodeMeasurement([]byte{0x00, 0x4B})
	require.True(t, ok)
	assert.Equal(t, 75, meas.HeartRate)
	assert.Empty(t, meas.RRIntervalsMs)
}

func TestDecodeMeasurement16Bit(t *testing.T) {
	meas, ok := DecodeMeasurement([]byte{0x01, 0x4B, 0x00})
	require.True(t, ok)
	assert.Equal(t, 75, meas.HeartRate)

	meas, ok = DecodeMeasurement([]byte{0x01, 0x00, 0x01})
	require.True(t, ok)
	assert.Equal(t, 256, meas.HeartRate)
}

func TestDecodeMeasurementTooShort(t *testing.T) {
	_, ok := DecodeMeasurement(nil)
	assert.False(t, ok)

	_, ok = DecodeMeasurement([]byte{0x00})
	assert.False(t, ok)

	// 16-bit flag with only one value byte.
	_, ok = DecodeMeasurement([]byte{0x01, 0x4B})
	assert.False(t, ok)
}

func TestDecodeMeasurementSensorContact(t *testing.T) {
	meas, ok := DecodeMeasurement([]byte{0x06, 0x50})
	require.True(t, ok)
	assert.Equal(t, 80, meas.HeartRate)
	assert.True(t, meas.SensorContactSupported)
	assert.True(t, meas.SensorContactDetected)

	meas, ok = DecodeMeasurement([]byte{0x04, 0x50})
	require.True(t, ok)
	assert.True(t, meas.SensorContactSupported)
	assert.False(t, meas.SensorContactDetected)
}

func TestDecodeMeasurementRRIntervals(t *testing.T) {
	// 8-bit value with the RR flag and two intervals: 1024/1024s and
	// 512/1024s, which decode to 1000ms and 500ms.
	meas, ok := DecodeMeasurement([]byte{0x10, 0x4B, 0x00, 0x04, 0x00, 0x02})
	require.True(t, ok)
	assert.Equal(t, 75, meas.HeartRate)
	require.Len(t, meas.RRIntervalsMs, 2)
	assert.InDelta(t, 1000.0, meas.RRIntervalsMs[0], 0.001)
	assert.InDelta(t, 500.0, meas.RRIntervalsMs[1], 0.001)
}

func TestDecodeMeasurementOddRRTail(t *testing.T) {
	// A dangling odd byte after complete pairs is ignored.
	meas, ok := DecodeMeasurement([]byte{0x10, 0x4B, 0x00, 0x04, 0xFF})
	require.True(t, ok)
	require.Len(t, meas.RRIntervalsMs, 1)
	assert.InDelta(t, 1000.0, meas.RRIntervalsMs[0], 0.001)
}
