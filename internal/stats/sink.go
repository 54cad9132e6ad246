package stats

// Sink keeps the two windows tracked for one signal: the current lap and the
// whole activity. Updates land in both; lap boundaries reset only the lap
// window.
type Sink struct {
	Name  string
	Lap   Aggregate
	Total Aggregate
}

// NewSink returns a sink with both windows empty.
func NewSink(name string) *Sink {
	return &Sink{Name: name}
}

// Update folds one sample into both windows.
func (s *Sink) Update(value float64, timestampMs int64) {
	s.Lap = s.Lap.Update(value, timestampMs)
	s.Total = s.Total.Update(value, timestampMs)
}

// ResetLap empties the lap window. The total window is untouched.
func (s *Sink) ResetLap() {
	s.Lap = s.Lap.Reset()
}

// ResumeLap re-stamps the lap window's last timestamp so a pause interval is
// not counted as time the signal held its last value.
func (s *Sink) ResumeLap(timestampMs int64) {
	s.Lap = s.Lap.Restamp(timestampMs)
}
