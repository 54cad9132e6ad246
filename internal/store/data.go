package store

import (
	"database/sql"
	"fmt"
)

// AddActivityDatum appends one sampling tick. A duplicate timestamp violates
// the primary key and is returned as an error; callers treat that as
// "already recorded" rather than a fault.
func (s *Store) AddActivityDatum(d Datum) error {
	_, err := s.db.Exec(
		`INSERT INTO activity_data (timestamp, activity_id, heart_rate, speed, latitude, longitude)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.Timestamp, d.ActivityID, d.HeartRate, d.Speed, d.Latitude, d.Longitude,
	)
	if err != nil {
		return fmt.Errorf("add datum at %d: %w", d.Timestamp, err)
	}
	return nil
}

// GetActivityData returns an activity's data points in timestamp order.
func (s *Store) GetActivityData(activityID string) ([]Datum, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, activity_id, heart_rate, speed, latitude, longitude
		 FROM activity_data WHERE activity_id = ? ORDER BY timestamp ASC`, activityID,
	)
	if err != nil {
		return nil, fmt.Errorf("get data for %s: %w", activityID, err)
	}
	defer rows.Close()

	var data []Datum
	for rows.Next() {
		var d Datum
		var hr sql.NullInt64
		var speed, lat, lon sql.NullFloat64
		if err := rows.Scan(&d.Timestamp, &d.ActivityID, &hr, &speed, &lat, &lon); err != nil {
			return nil, err
		}
		if hr.Valid {
			v := int(hr.Int64)
			d.HeartRate = &v
		}
		if speed.Valid {
			d.Speed = &speed.Float64
		}
		if lat.Valid {
			d.Latitude = &lat.Float64
		}
		if lon.Valid {
			d.Longitude = &lon.Float64
		}
		data = append(data, d)
	}
	return data, rows.Err()
}
