package store

import "time"

// Activity statuses as persisted.
const (
	StatusInProgress = "in-progress"
	StatusPaused     = "paused"
	StatusStopped    = "stopped"
)

// Activity is one workout session.
type Activity struct {
	ID        string
	Type      string
	Status    string
	StartTime time.Time
	EndTime   *time.Time
	Notes     string
}

// Datum is one sampling tick's worth of sensor readings. Fields are nil when
// the sensor had no value that tick. Timestamp (epoch milliseconds) is the
// primary key: a re-emitted tick is rejected by the store rather than
// double-counted.
type Datum struct {
	Timestamp  int64
	ActivityID string
	HeartRate  *int
	Speed      *float64 // m/s
	Latitude   *float64
	Longitude  *float64
}

// Lap is one closed lap's aggregate summary. Number 0 is the synthetic
// whole-activity total written exactly once at stop; 1..N are sequential
// laps. Times are epoch milliseconds.
type Lap struct {
	ID         int64
	ActivityID string
	Number     int
	StartTime  int64
	EndTime    int64
	DurationMs int64
	Distance   float64 // meters

	HeartRateMin float64
	HeartRateAvg float64 // time-weighted
	HeartRateMax float64

	SpeedMin float64
	SpeedAvg float64 // time-weighted
	SpeedMax float64
}

// ActivityUpdate is a partial update applied to an activity by id. Nil fields
// are left untouched.
type ActivityUpdate struct {
	Status  *string
	EndTime *time.Time
	Notes   *string
}

// Details is one row of the activity list: the activity joined with its
// total lap.
type Details struct {
	Activity Activity
	Total    Lap
}
