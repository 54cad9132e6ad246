package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AddActivity inserts a new activity row.
func (s *Store) AddActivity(a Activity) error {
	var endTime *string
	if a.EndTime != nil {
		v := a.EndTime.UTC().Format(time.RFC3339)
		endTime = &v
	}
	_, err := s.db.Exec(
		`INSERT INTO activities (id, type, status, start_time, end_time, notes) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Status, a.StartTime.UTC().Format(time.RFC3339), endTime, a.Notes,
	)
	if err != nil {
		return fmt.Errorf("add activity %s: %w", a.ID, err)
	}
	return nil
}

// ModifyActivity applies a partial update keyed by id.
func (s *Store) ModifyActivity(id string, u ActivityUpdate) error {
	query := `UPDATE activities SET id = id`
	var args []any

	if u.Status != nil {
		query += `, status = ?`
		args = append(args, *u.Status)
	}
	if u.EndTime != nil {
		query += `, end_time = ?`
		args = append(args, u.EndTime.UTC().Format(time.RFC3339))
	}
	if u.Notes != nil {
		query += `, notes = ?`
		args = append(args, *u.Notes)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("modify activity %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("modify activity %s: no such activity", id)
	}
	return nil
}

// GetActivity returns one activity by id.
func (s *Store) GetActivity(id string) (*Activity, error) {
	a := &Activity{}
	var startTime string
	var endTime sql.NullString

	err := s.db.QueryRow(
		`SELECT id, type, status, start_time, end_time, notes FROM activities WHERE id = ?`, id,
	).Scan(&a.ID, &a.Type, &a.Status, &startTime, &endTime, &a.Notes)
	if err != nil {
		return nil, fmt.Errorf("get activity %s: %w", id, err)
	}
	a.StartTime, _ = time.Parse(time.RFC3339, startTime)
	if endTime.Valid {
		t, _ := time.Parse(time.RFC3339, endTime.String)
		a.EndTime = &t
	}
	return a, nil
}

// GetActivityList returns all activities joined with their total lap
// (number = 0), most recent first. Activities without a total lap yet
// (still running, or crashed before stop) are included with a zero Total.
func (s *Store) GetActivityList() ([]Details, error) {
	rows, err := s.db.Query(`
		SELECT a.id, a.type, a.status, a.start_time, a.end_time, a.notes,
		       COALESCE(l.id, 0), COALESCE(l.number, 0),
		       COALESCE(l.start_time, 0), COALESCE(l.end_time, 0),
		       COALESCE(l.duration_ms, 0), COALESCE(l.distance, 0),
		       COALESCE(l.heart_rate_min, 0), COALESCE(l.heart_rate_avg, 0), COALESCE(l.heart_rate_max, 0),
		       COALESCE(l.speed_min, 0), COALESCE(l.speed_avg, 0), COALESCE(l.speed_max, 0)
		FROM activities a
		LEFT JOIN activity_laps l ON l.activity_id = a.id AND l.number = 0
		ORDER BY a.start_time DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var list []Details
	for rows.Next() {
		var d Details
		var startTime string
		var endTime sql.NullString
		if err := rows.Scan(
			&d.Activity.ID, &d.Activity.Type, &d.Activity.Status, &startTime, &endTime, &d.Activity.Notes,
			&d.Total.ID, &d.Total.Number,
			&d.Total.StartTime, &d.Total.EndTime,
			&d.Total.DurationMs, &d.Total.Distance,
			&d.Total.HeartRateMin, &d.Total.HeartRateAvg, &d.Total.HeartRateMax,
			&d.Total.SpeedMin, &d.Total.SpeedAvg, &d.Total.SpeedMax,
		); err != nil {
			return nil, err
		}
		d.Total.ActivityID = d.Activity.ID
		d.Activity.StartTime, _ = time.Parse(time.RFC3339, startTime)
		if endTime.Valid {
			t, _ := time.Parse(time.RFC3339, endTime.String)
			d.Activity.EndTime = &t
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// DeleteActivity removes an activity and, via cascade, its data and laps.
func (s *Store) DeleteActivity(id string) error {
	_, err := s.db.Exec(`DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete activity %s: %w", id, err)
	}
	return nil
}
