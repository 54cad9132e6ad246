// Package export writes finished activities to CSV and JSON files.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/gigilibala/happyrunner-sub000/internal/store"
	"github.com/gigilibala/happyrunner-sub000/internal/units"
)

// LapsToCSV writes one row per lap, the number-0 total first when present.
// Speeds and distances are converted with pref; durations are HH:MM:SS.
func LapsToCSV(activity store.Activity, laps []store.Lap, pref units.Preference, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"Activity", "Type", "Lap", "Start", "End", "Duration",
		"Distance", "Avg Speed", "Max Speed",
		"Avg HR", "Min HR", "Max HR",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, l := range laps {
		label := fmt.Sprintf("%d", l.Number)
		if l.Number == 0 {
			label = "total"
		}
		row := []string{
			activity.ID,
			activity.Type,
			label,
			time.UnixMilli(l.StartTime).UTC().Format(time.RFC3339),
			time.UnixMilli(l.EndTime).UTC().Format(time.RFC3339),
			units.FormatDurationHMS(l.DurationMs),
			pref.FormatDistance(l.Distance),
			pref.FormatSpeed(l.SpeedAvg),
			pref.FormatSpeed(l.SpeedMax),
			fmt.Sprintf("%.0f", l.HeartRateAvg),
			fmt.Sprintf("%.0f", l.HeartRateMin),
			fmt.Sprintf("%.0f", l.HeartRateMax),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	return w.Error()
}
