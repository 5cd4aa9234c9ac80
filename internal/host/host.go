// Package host defines the boundary between the profiler core and the
// managed runtime it is embedded in. The core never walks stacks, owns
// timers, or inspects the collector itself; it consumes these interfaces
// and leaves all of that to the host.
package host

import "time"

// FrameID is an opaque, host-owned token naming one call-stack location.
// It is stable for the lifetime of the host process and is only ever used
// as a map key by the profiler.
type FrameID uint64

// ObjectID is an opaque, host-owned token naming one live allocation.
// Hosts are free to reuse an ObjectID after the object it named is freed.
type ObjectID uint64

// FrameInfo is the lazily-fetched metadata for one frame identity. It is
// queried at result-finalization time only, never on the sampling path.
type FrameInfo struct {
	Name      string
	File      string
	FirstLine int
}

// Runtime is the minimum surface every host must provide.
type Runtime interface {
	// Capture walks the current call stack, innermost frame first, filling
	// frames and lines up to min(len(frames), len(lines)) entries, and
	// returns the number filled. Zero is a valid result (no managed frames
	// on the stack right now).
	Capture(frames []FrameID, lines []int) int

	// FrameInfo resolves metadata for one frame identity.
	FrameInfo(id FrameID) FrameInfo

	// Schedule runs job at the host's next safe point. Safe-point jobs are
	// serialized: the host never runs two of them concurrently, and never
	// runs one concurrently with a Capture it initiated.
	Schedule(job func())

	// InGC reports whether the host's collector is mid-pause. Must be safe
	// to call from an interrupt context.
	InGC() bool
}

// Clock selects the timebase for interval sampling.
type Clock int

const (
	// ClockWall ticks in real time.
	ClockWall Clock = iota
	// ClockCPU ticks in process CPU time.
	ClockCPU
)

func (c Clock) String() string {
	if c == ClockCPU {
		return "cpu"
	}
	return "wall"
}

// TimerSource is implemented by hosts that can deliver interval interrupts.
// The tick callback runs in a restricted context: it may only touch atomic
// counters and call Runtime.Schedule.
type TimerSource interface {
	ArmTimer(clock Clock, interval time.Duration, tick func()) error
	DisarmTimer()
}

// AllocSource is implemented by hosts that can report allocation and free
// events for managed objects.
type AllocSource interface {
	SubscribeAlloc(onAlloc func(obj ObjectID), onFree func(obj ObjectID)) error
	UnsubscribeAlloc()
}

// GCForcer is implemented by hosts that can run a full reachability pass on
// demand. The profiler uses it once, at heap-session stop, so that objects
// that are already unreachable get their free events before the tracker is
// drained.
type GCForcer interface {
	ForceGC()
}

// FrameRetainer is implemented by hosts whose frame identities are themselves
// collected values. Such hosts must be told which identities the profiler is
// holding so they stay valid until the result is built. Hosts with stable
// handles (both bundled adapters) do not implement it.
type FrameRetainer interface {
	RetainFrames(ids []FrameID)
	ReleaseFrames()
}
