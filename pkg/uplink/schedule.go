package uplink

import "math"

const (
	// DefaultBinWidth is the number of sends spent on each level.
	DefaultBinWidth = 1000
	// MaxBinWidth is the widest bin whose ceiling fits the 32 bit counter.
	MaxBinWidth = math.MaxUint32 / Levels
)

// Schedule maps the sweep counter to a data rate. The sweep is a fixed
// rotation through all levels, not an adaptive data rate algorithm.
type Schedule struct {
	BinWidth uint32
}

// NewSchedule creates a schedule. Zero selects DefaultBinWidth and widths
// above MaxBinWidth are clamped.
func NewSchedule(binWidth uint32) Schedule {
	return Schedule{BinWidth: Schedule{BinWidth: binWidth}.width()}
}

func (s Schedule) width() uint32 {
	switch {
	case s.BinWidth == 0:
		return DefaultBinWidth
	case s.BinWidth > MaxBinWidth:
		return MaxBinWidth
	}
	return s.BinWidth
}

// Ceiling is the counter value at which the sweep restarts.
func (s Schedule) Ceiling() uint32 {
	return s.width() * Levels
}

// DataRate selects the level for a counter value. Values at or beyond the
// ceiling are normalised first, so the ceiling itself selects SF7.
func (s Schedule) DataRate(c Counter) DataRate {
	c = s.Normalize(c)
	return SF7 + DataRate(uint32(c)/s.width())
}

// Normalize wraps a counter into [0, Ceiling).
func (s Schedule) Normalize(c Counter) Counter {
	return Counter(uint32(c) % s.Ceiling())
}

// Next returns the counter after one send attempt.
func (s Schedule) Next(c Counter) Counter {
	return s.Normalize(s.Normalize(c) + 1)
}

// Counter counts send attempts. It is only mutated by the Scheduler.
type Counter uint32
