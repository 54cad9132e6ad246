package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addTestActivity(t *testing.T, s *Store) Activity {
	t.Helper()
	a := Activity{
		ID:        uuid.NewString(),
		Type:      "running",
		Status:    StatusInProgress,
		StartTime: time.Date(2026, 8, 29, 7, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.AddActivity(a))
	return a
}

func TestAddAndGetActivity(t *testing.T) {
	s := newTestStore(t)
	a := addTestActivity(t, s)

	got, err := s.GetActivity(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "running", got.Type)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.True(t, a.StartTime.Equal(got.StartTime))
	assert.Nil(t, got.EndTime)
}

func TestModifyActivity(t *testing.T) {
	s := newTestStore(t)
	a := addTestActivity(t, s)

	status := StatusStopped
	end := a.StartTime.Add(30 * time.Minute)
	notes := "easy morning run"
	require.NoError(t, s.ModifyActivity(a.ID, ActivityUpdate{
		Status:  &status,
		EndTime: &end,
		Notes:   &notes,
	}))

	got, err := s.GetActivity(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))
	assert.Equal(t, notes, got.Notes)
}

func TestModifyActivityPartial(t *testing.T) {
	s := newTestStore(t)
	a := addTestActivity(t, s)

	status := StatusPaused
	require.NoError(t, s.ModifyActivity(a.ID, ActivityUpdate{Status: &status}))

	got, err := s.GetActivity(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, got.Status)
	assert.Nil(t, got.EndTime)
	assert.Empty(t, got.Notes)
}

func TestModifyActivityUnknownID(t *testing.T) {
	s := newTestStore(t)
	status := StatusStopped
	err := s.ModifyActivity("no-such-id", ActivityUpdate{Status: &status})
	assert.Error(t, err)
}

func TestAddActivityDatumDuplicateTimestamp(t *testing.T) {
	s := newTestStore(t)
	a := addTestActivity(t, s)

	hr := 140
	d := Datum{Timestamp: 1000, ActivityID: a.ID, HeartRate: &hr}
	require.NoError(t, s.AddActivityDatum(d))

	// Same timestamp again hits the primary key.
	err := s.AddActivityDatum(d)
	assert.Error(t, err)

	data, err := s.GetActivityData(a.ID)
	require.NoError(t, err)
	assert.Len(t, data, 1)
}

func TestActivityDataOptionalFields(t *testing.T) {
	s := newTestStore(t)
	a := addTestActivity(t, s)

	hr := 150
	speed := 3.2
	lat, lon := 37.77, -122.42
	require.NoError(t, s.AddActivityDatum(Datum{
		Timestamp: 1000, ActivityID: a.ID,
		HeartRate: &hr, Speed: &speed, Latitude: &lat, Longitude: &lon,
	}))
	// A tick where only the heart rate was available.
	require.NoError(t, s.AddActivityDatum(Datum{
		Timestamp: 4000, ActivityID: a.ID, HeartRate: &hr,
	}))

	data, err := s.GetActivityData(a.ID)
	require.NoError(t, err)
	require.Len(t, data, 2)

	assert.Equal(t, 150, *data[0].HeartRate)
	assert.Equal(t, 3.2, *data[0].Speed)
	assert.Equal(t, 37.77, *data[0].Latitude)

	assert.Nil(t, data[1].Speed)
	assert.Nil(t, data[1].Latitude)
	assert.Nil(t, data[1].Longitude)
}

func TestLapsOrderedByNumber(t *testing.T) {
	s := newTestStore(t)
	a := addTestActivity(t, s)

	for _, n := range []int{2, 1, 0} {
		require.NoError(t, s.AddActivityLap(Lap{
			ActivityID: a.ID, Number: n,
			StartTime: int64(n) * 1000, EndTime: int64(n+1) * 1000, DurationMs: 1000,
		}))
	}

	laps, err := s.GetActivityLaps(a.ID)
	require.NoError(t, err)
	require.Len(t, laps, 3)
	assert.Equal(t, 0, laps[0].Number)
	assert.Equal(t, 1, laps[1].Number)
	assert.Equal(t, 2, laps[2].Number)
}

func TestLapUniquePerActivityAndNumber(t *testing.T) {
	s := newTestStore(t)
	a := addTestActivity(t, s)

	lap := Lap{ActivityID: a.ID, Number: 1, StartTime: 0, EndTime: 1000, DurationMs: 1000}
	require.NoError(t, s.AddActivityLap(lap))
	assert.Error(t, s.AddActivityLap(lap))
}

func TestGetActivityList(t *testing.T) {
	s := newTestStore(t)

	first := Activity{
		ID: uuid.NewString(), Type: "running", Status: StatusStopped,
		StartTime: time.Date(2026, 8, 28, 7, 0, 0, 0, time.UTC),
	}
	second := Activity{
		ID: uuid.NewString(), Type: "running", Status: StatusStopped,
		StartTime: time.Date(2026, 8, 29, 7, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.AddActivity(first))
	require.NoError(t, s.AddActivity(second))

	require.NoError(t, s.AddActivityLap(Lap{
		ActivityID: first.ID, Number: 0,
		StartTime: 0, EndTime: 60000, DurationMs: 60000,
		Distance: 250, HeartRateAvg: 145, SpeedAvg: 4.1,
	}))
	// A per-lap record must not leak into the list join.
	require.NoError(t, s.AddActivityLap(Lap{
		ActivityID: first.ID, Number: 1,
		StartTime: 0, EndTime: 30000, DurationMs: 30000,
	}))

	list, err := s.GetActivityList()
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Newest first.
	assert.Equal(t, second.ID, list[0].Activity.ID)
	assert.Equal(t, first.ID, list[1].Activity.ID)

	// Second has no total lap yet.
	assert.Zero(t, list[0].Total.DurationMs)

	assert.Equal(t, int64(60000), list[1].Total.DurationMs)
	assert.Equal(t, 250.0, list[1].Total.Distance)
	assert.Equal(t, 145.0, list[1].Total.HeartRateAvg)
}

func TestDeleteActivityCascades(t *testing.T) {
	s := newTestStore(t)
	a := addTestActivity(t, s)

	hr := 120
	require.NoError(t, s.AddActivityDatum(Datum{Timestamp: 1000, ActivityID: a.ID, HeartRate: &hr}))
	require.NoError(t, s.AddActivityLap(Lap{ActivityID: a.ID, Number: 0, StartTime: 0, EndTime: 1000, DurationMs: 1000}))

	require.NoError(t, s.DeleteActivity(a.ID))

	data, err := s.GetActivityData(a.ID)
	require.NoError(t, err)
	assert.Empty(t, data)

	laps, err := s.GetActivityLaps(a.ID)
	require.NoError(t, err)
	assert.Empty(t, laps)

	_, err = s.GetActivity(a.ID)
	assert.Error(t, err)
}

func TestClearDatabase(t *testing.T) {
	s := newTestStore(t)
	a := addTestActivity(t, s)
	require.NoError(t, s.AddActivityLap(Lap{ActivityID: a.ID, Number: 0, StartTime: 0, EndTime: 1000, DurationMs: 1000}))

	require.NoError(t, s.ClearDatabase())

	list, err := s.GetActivityList()
	require.NoError(t, err)
	assert.Empty(t, list)
}
