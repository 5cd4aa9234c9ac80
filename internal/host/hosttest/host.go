// Package hosttest provides a deterministic, scriptable host runtime for
// profiler tests: the current stack, GC state, timer ticks, and allocation
// events are all driven explicitly by the test.
package hosttest

import (
	"fmt"
	"time"

	"github.com/stackprobe/stackprobe/internal/host"
)

// Runtime is a fake host. The zero value is not usable; call New.
//
// Schedule is synchronous by default, mirroring a cooperative runtime that
// reaches a safe point immediately. Set Deferred to queue jobs instead and
// release them with RunPending, e.g. to exercise the stopped-before-job path.
type Runtime struct {
	// Stack and Lines are what the next Capture returns, innermost first.
	Stack []host.FrameID
	Lines []int

	// GC reports the collector-pause state returned by InGC.
	GC bool

	// Deferred queues Schedule jobs instead of running them inline.
	Deferred bool

	// Info holds frame metadata; frames without an entry get a generated
	// name so finalization never produces empty labels.
	Info map[host.FrameID]host.FrameInfo

	// OnForceGC, when set, runs inside ForceGC, before it returns. Tests
	// use it to deliver free events during the stop-time reachability pass.
	OnForceGC func()

	pending []func()

	tick    func()
	clock   host.Clock
	armed   bool
	Arms    int
	Disarms int

	onAlloc    func(host.ObjectID)
	onFree     func(host.ObjectID)
	Subscribed bool

	ForceGCCalls int
}

// New returns a fake runtime with an empty stack and no metadata.
func New() *Runtime {
	return &Runtime{Info: make(map[host.FrameID]host.FrameInfo)}
}

// SetStack programs the stack returned by subsequent captures, innermost
// frame first. Line numbers default to 10×frame id when lines is nil.
func (r *Runtime) SetStack(frames []host.FrameID, lines []int) {
	if lines == nil {
		lines = make([]int, len(frames))
		for i, f := range frames {
			lines[i] = int(f) * 10
		}
	}
	r.Stack = frames
	r.Lines = lines
}

// Capture implements host.Runtime.
func (r *Runtime) Capture(frames []host.FrameID, lines []int) int {
	n := len(r.Stack)
	if n > len(frames) {
		n = len(frames)
	}
	copy(frames, r.Stack[:n])
	copy(lines, r.Lines[:n])
	return n
}

// FrameInfo implements host.Runtime.
func (r *Runtime) FrameInfo(id host.FrameID) host.FrameInfo {
	if info, ok := r.Info[id]; ok {
		return info
	}
	return host.FrameInfo{
		Name: fmt.Sprintf("frame_%d", id),
		File: fmt.Sprintf("frame_%d.src", id),
	}
}

// Schedule implements host.Runtime.
func (r *Runtime) Schedule(job func()) {
	if r.Deferred {
		r.pending = append(r.pending, job)
		return
	}
	job()
}

// RunPending runs and clears all queued safe-point jobs.
func (r *Runtime) RunPending() {
	jobs := r.pending
	r.pending = nil
	for _, job := range jobs {
		job()
	}
}

// PendingJobs reports how many safe-point jobs are queued.
func (r *Runtime) PendingJobs() int { return len(r.pending) }

// InGC implements host.Runtime.
func (r *Runtime) InGC() bool { return r.GC }

// ArmTimer implements host.TimerSource.
func (r *Runtime) ArmTimer(clock host.Clock, interval time.Duration, tick func()) error {
	if interval <= 0 {
		return fmt.Errorf("hosttest: non-positive interval %v", interval)
	}
	r.clock = clock
	r.tick = tick
	r.armed = true
	r.Arms++
	return nil
}

// DisarmTimer implements host.TimerSource.
func (r *Runtime) DisarmTimer() {
	r.armed = false
	r.Disarms++
}

// Armed reports whether the interval timer is currently armed, and on which
// clock.
func (r *Runtime) Armed() (bool, host.Clock) { return r.armed, r.clock }

// Tick delivers n timer interrupts. Ticks on a disarmed timer are dropped,
// as a real host would drop them.
func (r *Runtime) Tick(n int) {
	for i := 0; i < n; i++ {
		if !r.armed || r.tick == nil {
			return
		}
		r.tick()
	}
}

// SubscribeAlloc implements host.AllocSource.
func (r *Runtime) SubscribeAlloc(onAlloc, onFree func(host.ObjectID)) error {
	r.onAlloc = onAlloc
	r.onFree = onFree
	r.Subscribed = true
	return nil
}

// UnsubscribeAlloc implements host.AllocSource.
func (r *Runtime) UnsubscribeAlloc() {
	r.onAlloc = nil
	r.onFree = nil
	r.Subscribed = false
}

// Alloc delivers one allocation event.
func (r *Runtime) Alloc(obj host.ObjectID) {
	if r.onAlloc != nil {
		r.onAlloc(obj)
	}
}

// Free delivers one free event.
func (r *Runtime) Free(obj host.ObjectID) {
	if r.onFree != nil {
		r.onFree(obj)
	}
}

// ForceGC implements host.GCForcer.
func (r *Runtime) ForceGC() {
	r.ForceGCCalls++
	if r.OnForceGC != nil {
		r.OnForceGC()
	}
}
