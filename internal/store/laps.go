package store

import "fmt"

// AddActivityLap appends one closed lap summary.
func (s *Store) AddActivityLap(l Lap) error {
	_, err := s.db.Exec(
		`INSERT INTO activity_laps
		 (activity_id, number, start_time, end_time, duration_ms, distance,
		  heart_rate_min, heart_rate_avg, heart_rate_max,
		  speed_min, speed_avg, speed_max)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ActivityID, l.Number, l.StartTime, l.EndTime, l.DurationMs, l.Distance,
		l.HeartRateMin, l.HeartRateAvg, l.HeartRateMax,
		l.SpeedMin, l.SpeedAvg, l.SpeedMax,
	)
	if err != nil {
		return fmt.Errorf("add lap %d for %s: %w", l.Number, l.ActivityID, err)
	}
	return nil
}

// GetActivityLaps returns an activity's laps ordered by number ascending, so
// the total lap (number 0) comes first when present.
func (s *Store) GetActivityLaps(activityID string) ([]Lap, error) {
	rows, err := s.db.Query(
		`SELECT id, activity_id, number, start_time, end_time, duration_ms, distance,
		        heart_rate_min, heart_rate_avg, heart_rate_max,
		        speed_min, speed_avg, speed_max
		 FROM activity_laps WHERE activity_id = ? ORDER BY number ASC`, activityID,
	)
	if err != nil {
		return nil, fmt.Errorf("get laps for %s: %w", activityID, err)
	}
	defer rows.Close()

	var laps []Lap
	for rows.Next() {
		var l Lap
		if err := rows.Scan(
			&l.ID, &l.ActivityID, &l.Number, &l.StartTime, &l.EndTime, &l.DurationMs, &l.Distance,
			&l.HeartRateMin, &l.HeartRateAvg, &l.HeartRateMax,
			&l.SpeedMin, &l.SpeedAvg, &l.SpeedMax,
		); err != nil {
			return nil, err
		}
		laps = append(laps, l)
	}
	return laps, rows.Err()
}
