// Package stats holds the running statistics kept for each tracked signal
// (heart rate, speed) during an activity. Aggregates are plain value types so
// they can be copied, compared, and tested without any locking.
package stats

// Aggregate accumulates statistics for one numeric signal over one open-ended
// window. The time-weighted average is the value reported to the user: a
// reading held for a long gap between samples contributes proportionally more
// than one that changed quickly, which models sensors whose last value
// persists until the next notification.
type Aggregate struct {
	Count           int64
	Sum             float64
	Avg             float64
	TimeWeightedSum float64 // sum of value * ms since previous update
	TimeWeightedAvg float64
	DurationMs      int64
	Min             float64
	Max             float64
	LastTimestampMs int64
	LastValue       float64
}

// NewAggregate returns an empty aggregate.
func NewAggregate() Aggregate {
	return Aggregate{}
}

// HasData reports whether at least one sample has been recorded. Min and Max
// are only meaningful when this is true.
func (a Aggregate) HasData() bool {
	return a.Count > 0
}

// Update folds one sample into the aggregate and returns the new state. The
// first sample contributes a zero time delta.
func (a Aggregate) Update(value float64, timestampMs int64) Aggregate {
	var deltaMs int64
	if a.Count > 0 {
		deltaMs = timestampMs - a.LastTimestampMs
		if deltaMs < 0 {
			deltaMs = 0
		}
	}

	a.DurationMs += deltaMs
	a.Count++
	a.Sum += value
	a.Avg = a.Sum / float64(a.Count)
	a.TimeWeightedSum += value * float64(deltaMs)
	if a.DurationMs > 0 {
		a.TimeWeightedAvg = a.TimeWeightedSum / float64(a.DurationMs)
	} else {
		a.TimeWeightedAvg = 0
	}

	if a.Count == 1 || value < a.Min {
		a.Min = value
	}
	if a.Count == 1 || value > a.Max {
		a.Max = value
	}

	a.LastTimestampMs = timestampMs
	a.LastValue = value
	return a
}

// Restamp moves the last-update timestamp forward without touching any
// counter, so the interval between the old and new timestamp is excluded from
// time weighting. Used when sampling resumes after a pause.
func (a Aggregate) Restamp(timestampMs int64) Aggregate {
	if a.Count > 0 {
		a.LastTimestampMs = timestampMs
	}
	return a
}

// Reset returns the empty aggregate.
func (a Aggregate) Reset() Aggregate {
	return NewAggregate()
}
