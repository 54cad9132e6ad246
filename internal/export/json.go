package export

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gigilibala/happyrunner-sub000/internal/store"
	"github.com/gigilibala/happyrunner-sub000/internal/units"
)

type jsonExport struct {
	ExportedAt string     `json:"exported_at"`
	Activity   jsonHeader `json:"activity"`
	Laps       []jsonLap  `json:"laps"`
	Data       []jsonTick `json:"data"`
}

type jsonHeader struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type jsonLap struct {
	Number     int     `json:"number"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	Duration   string  `json:"duration"`
	DurationMs int64   `json:"duration_ms"`
	DistanceM  float64 `json:"distance_meters"`
	SpeedMin   float64 `json:"speed_min_mps"`
	SpeedAvg   float64 `json:"speed_avg_mps"`
	SpeedMax   float64 `json:"speed_max_mps"`
	HRMin      float64 `json:"heart_rate_min"`
	HRAvg      float64 `json:"heart_rate_avg"`
	HRMax      float64 `json:"heart_rate_max"`
}

type jsonTick struct {
	Timestamp int64    `json:"timestamp"`
	HeartRate *int     `json:"heart_rate,omitempty"`
	SpeedMps  *float64 `json:"speed_mps,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// ActivityToJSON writes one activity's full detail: header, lap summaries,
// and raw data points in SI units.
func ActivityToJSON(activity store.Activity, laps []store.Lap, data []store.Datum, path string) error {
	out := jsonExport{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Activity: jsonHeader{
			ID:        activity.ID,
			Type:      activity.Type,
			Status:    activity.Status,
			StartTime: activity.StartTime.UTC().Format(time.RFC3339),
			Notes:     activity.Notes,
		},
	}
	if activity.EndTime != nil {
		out.Activity.EndTime = activity.EndTime.UTC().Format(time.RFC3339)
	}

	for _, l := range laps {
		out.Laps = append(out.Laps, jsonLap{
			Number:     l.Number,
			StartTime:  time.UnixMilli(l.StartTime).UTC().Format(time.RFC3339),
			EndTime:    time.UnixMilli(l.EndTime).UTC().Format(time.RFC3339),
			Duration:   units.FormatDurationHMS(l.DurationMs),
			DurationMs: l.DurationMs,
			DistanceM:  l.Distance,
			SpeedMin:   l.SpeedMin,
			SpeedAvg:   l.SpeedAvg,
			SpeedMax:   l.SpeedMax,
			HRMin:      l.HeartRateMin,
			HRAvg:      l.HeartRateAvg,
			HRMax:      l.HeartRateMax,
		})
	}

	for _, d := range data {
		out.Data = append(out.Data, jsonTick{
			Timestamp: d.Timestamp,
			HeartRate: d.HeartRate,
			SpeedMps:  d.Speed,
			Latitude:  d.Latitude,
			Longitude: d.Longitude,
		})
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write json file: %w", err)
	}
	return nil
}
