package profiler

import (
	"time"

	"github.com/stackprobe/stackprobe/internal/host"
)

// Mode selects the event source driving a profiling session.
type Mode string

const (
	// ModeWall samples on a wall-clock interval timer.
	ModeWall Mode = "wall"
	// ModeCPU samples on a process-CPU-time interval timer.
	ModeCPU Mode = "cpu"
	// ModeObject samples call stacks on allocation events.
	ModeObject Mode = "object"
	// ModeHeap tracks live allocations and attributes whatever is still
	// reachable at stop time back to its allocation site.
	ModeHeap Mode = "heap"
	// ModeCustom has no event source; samples are taken manually.
	ModeCustom Mode = "custom"
)

// DefaultTimerInterval is the sampling interval used by the wall and cpu
// modes when none is configured.
const DefaultTimerInterval = 1000 * time.Microsecond

// Config describes one profiling session. It is immutable for the session's
// duration. The zero value of every field resolves to a sensible default in
// Start: wall mode, 1000µs timer interval, every allocation event,
// aggregation on.
type Config struct {
	// Mode selects the event source. Empty means ModeWall.
	Mode Mode

	// Interval is the sampling interval for the timer modes (wall, cpu).
	Interval time.Duration

	// Every samples every Nth event in the allocation-driven modes
	// (object, heap). Zero or one means every event.
	Every int

	// Raw retains the full per-sample stack sequences, run-length
	// compressed, alongside the aggregate counts.
	Raw bool

	// NoAggregate disables caller-edge and per-line accounting, leaving
	// only the per-frame sample totals.
	NoAggregate bool

	// HeapAll makes heap mode retain records for allocations freed before
	// stop instead of discarding them ("did not survive" data points).
	HeapAll bool

	// Out optionally names a destination the caller will serialize the
	// result to. The core carries it through untouched.
	Out string
}

// withDefaults resolves mode- and interval defaults without touching the
// receiver.
func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeWall
	}
	switch c.Mode {
	case ModeWall, ModeCPU:
		if c.Interval <= 0 {
			c.Interval = DefaultTimerInterval
		}
	case ModeObject, ModeHeap:
		if c.Every < 1 {
			c.Every = 1
		}
	}
	return c
}

// valid reports whether the mode is one this profiler knows.
func (c Config) valid() bool {
	switch c.Mode {
	case ModeWall, ModeCPU, ModeObject, ModeHeap, ModeCustom:
		return true
	}
	return false
}

// timerMode reports whether the session is driven by an interval timer.
func (c Config) timerMode() bool {
	return c.Mode == ModeWall || c.Mode == ModeCPU
}

// clock returns the timer clock for the timer modes.
func (c Config) clock() host.Clock {
	if c.Mode == ModeCPU {
		return host.ClockCPU
	}
	return host.ClockWall
}

// intervalValue is the mode-dependent interval recorded in the result:
// microseconds for the timer modes, the event stride for the allocation
// modes, zero for custom.
func (c Config) intervalValue() int64 {
	switch c.Mode {
	case ModeWall, ModeCPU:
		return c.Interval.Microseconds()
	case ModeObject, ModeHeap:
		return int64(c.Every)
	}
	return 0
}
