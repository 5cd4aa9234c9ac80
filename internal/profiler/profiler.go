package profiler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stackprobe/stackprobe/internal/host"
)

// ErrInvalidMode is returned by Start for a mode this profiler does not know.
var ErrInvalidMode = errors.New("unknown profiler mode")

// maxStackDepth bounds a single capture. Deeper stacks are silently
// truncated; that is expected, not an error.
const maxStackDepth = 2048

// Profiler owns the single profiling session slot and the aggregation state
// that outlives individual sessions. The aggregation table and the global
// counters are created at the first Start and survive stop/start cycles until
// Results externalizes them, so consecutive sessions accumulate into one
// profile.
//
// Control operations (Start, Stop, Sample, Results) and safe-point work are
// serialized by one mutex. In a cooperative host the mutex is never
// contended; with a host that schedules safe-point jobs on another goroutine
// it provides the serialization a cooperative runtime gets by construction.
// Interrupt-stage callbacks never take the mutex: they touch only the atomic
// counters.
type Profiler struct {
	rt     host.Runtime
	logger zerolog.Logger

	mu sync.Mutex

	running   bool
	cfg       Config
	sessionID string

	frames  *frameTable
	raw     *rawLog
	tracker *heapTracker

	overallSignals atomic.Uint64
	overallSamples atomic.Uint64
	gcSamples      atomic.Uint64
	// freedSamples counts non-retention heap entries whose whole lifetime
	// fell inside the profiling window. Each one also unwinds a signal and
	// a sample, so the missed-sample arithmetic is unaffected; the distinct
	// counter keeps "freed before stop" observable in the logs.
	freedSamples atomic.Uint64

	// inJob guards the safe-point stage against re-triggering itself.
	inJob atomic.Bool

	frameBuf []host.FrameID
	lineBuf  []int
}

// New creates a Profiler bound to one host runtime. No session is started.
func New(rt host.Runtime, logger zerolog.Logger) *Profiler {
	return &Profiler{
		rt:       rt,
		logger:   logger.With().Str("component", "profiler").Logger(),
		frameBuf: make([]host.FrameID, maxStackDepth),
		lineBuf:  make([]int, maxStackDepth),
	}
}

// Running reports whether a session is active.
func (p *Profiler) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start begins a session with the given configuration. It returns
// (false, nil) without side effects when a session is already running, and
// (false, err) when the mode is unknown or the host lacks the capability the
// mode needs.
func (p *Profiler) Start(cfg Config) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return false, nil
	}

	cfg = cfg.withDefaults()
	if !cfg.valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}

	switch cfg.Mode {
	case ModeWall, ModeCPU:
		ts, ok := p.rt.(host.TimerSource)
		if !ok {
			return false, fmt.Errorf("mode %q: host has no interval timer", cfg.Mode)
		}
		if err := ts.ArmTimer(cfg.clock(), cfg.Interval, p.onTick); err != nil {
			return false, fmt.Errorf("arm %s timer: %w", cfg.Mode, err)
		}

	case ModeObject:
		as, ok := p.rt.(host.AllocSource)
		if !ok {
			return false, fmt.Errorf("mode %q: host has no allocation events", cfg.Mode)
		}
		if err := as.SubscribeAlloc(p.objectHandler(cfg), nil); err != nil {
			return false, fmt.Errorf("subscribe allocation events: %w", err)
		}

	case ModeHeap:
		as, ok := p.rt.(host.AllocSource)
		if !ok {
			return false, fmt.Errorf("mode %q: host has no allocation events", cfg.Mode)
		}
		p.tracker = newHeapTracker()
		onAlloc, onFree := p.heapHandlers(cfg)
		if err := as.SubscribeAlloc(onAlloc, onFree); err != nil {
			p.tracker = nil
			return false, fmt.Errorf("subscribe allocation events: %w", err)
		}

	case ModeCustom:
		// Sampled manually.
	}

	// The table and counters persist across stop/start cycles; only their
	// absence (fresh profiler, or a completed Results call) resets them. A
	// failed start above leaves them untouched.
	if p.frames == nil {
		p.frames = newFrameTable()
		p.overallSignals.Store(0)
		p.overallSamples.Store(0)
		p.gcSamples.Store(0)
		p.freedSamples.Store(0)
	}

	p.cfg = cfg
	p.sessionID = uuid.NewString()
	p.running = true

	p.logger.Info().
		Str("session_id", p.sessionID).
		Str("mode", string(cfg.Mode)).
		Int64("interval", cfg.intervalValue()).
		Bool("raw", cfg.Raw).
		Bool("aggregate", !cfg.NoAggregate).
		Msg("Profiling session started")
	return true, nil
}

// Stop ends the active session. It returns false when no session is running.
// Stop is synchronous: the event source is fully quiesced before it returns,
// and a safe-point job scheduled before Stop degrades to a no-op. In heap
// mode it first forces a host reachability pass, so objects that are already
// unreachable get their free events, then drains the tracker into the
// aggregation table.
func (p *Profiler) Stop() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.running = false
	cfg := p.cfg
	p.mu.Unlock()

	switch cfg.Mode {
	case ModeWall, ModeCPU:
		if ts, ok := p.rt.(host.TimerSource); ok {
			ts.DisarmTimer()
		}

	case ModeObject:
		if as, ok := p.rt.(host.AllocSource); ok {
			as.UnsubscribeAlloc()
		}

	case ModeHeap:
		// Reachability pass before unsubscribing: frees raised here must
		// still reach the tracker, or dead objects would drain as live.
		if gc, ok := p.rt.(host.GCForcer); ok {
			gc.ForceGC()
		}
		if as, ok := p.rt.(host.AllocSource); ok {
			as.UnsubscribeAlloc()
		}
		p.mu.Lock()
		if p.tracker != nil {
			drained := p.tracker.len()
			p.tracker.drainInto(func(frames []host.FrameID, lines []int) {
				p.processSample(frames, lines, cfg)
			})
			p.tracker = nil
			p.logger.Debug().Int("allocations", drained).Msg("Heap tracker drained")
		}
		p.mu.Unlock()
	}

	p.mu.Lock()
	if r, ok := p.rt.(host.FrameRetainer); ok && p.frames != nil {
		r.RetainFrames(p.frames.keys())
	}
	p.mu.Unlock()

	p.logger.Info().
		Str("session_id", p.sessionID).
		Uint64("signals", p.overallSignals.Load()).
		Uint64("samples", p.overallSamples.Load()).
		Uint64("gc_samples", p.gcSamples.Load()).
		Uint64("freed_samples", p.freedSamples.Load()).
		Msg("Profiling session stopped")
	return true
}

// Sample takes one manual sample through the same path a deferred timer
// sample takes. It returns false when no session is running. Usable in any
// mode; in heap mode it advances the counters without aggregating.
func (p *Profiler) Sample() bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return false
	}
	p.overallSignals.Add(1)
	p.safePointJob()
	return true
}

// Run profiles fn under cfg and returns the results: a Start / fn / Stop /
// Results cycle in one call. Stop runs even when fn panics.
func (p *Profiler) Run(cfg Config, fn func()) (*Result, error) {
	started, err := p.Start(cfg)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, errors.New("profiler already running")
	}
	func() {
		defer p.Stop()
		fn()
	}()
	return p.Results(), nil
}

// Results builds and returns, exactly once, the immutable profile
// accumulated since the aggregation table was created, then releases all
// internal state. It returns nil while a session is running, before any
// session ever started, and on a second call without an intervening Start.
func (p *Profiler) Results() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.frames == nil {
		return nil
	}

	signals := p.overallSignals.Load()
	samples := p.overallSamples.Load()
	res := &Result{
		Version:       ResultVersion,
		SessionID:     p.sessionID,
		Mode:          p.cfg.Mode,
		Interval:      p.cfg.intervalValue(),
		Samples:       samples,
		GCSamples:     p.gcSamples.Load(),
		MissedSamples: signals - samples,
		Frames:        p.frames.finalize(p.rt),
	}
	p.frames = nil

	if p.raw != nil && !p.raw.empty() {
		res.Raw = p.raw.decode()
	}
	p.raw = nil

	if r, ok := p.rt.(host.FrameRetainer); ok {
		r.ReleaseFrames()
	}

	p.logger.Info().
		Str("session_id", res.SessionID).
		Uint64("samples", res.Samples).
		Int("frames", len(res.Frames)).
		Int("raw_samples", len(res.Raw)).
		Msg("Profile results finalized")
	return res
}

// onTick is the interrupt stage for the timer modes. It runs in the host's
// restricted interrupt context: counters and a pause-state check only. A tick
// that lands inside a collector pause is credited as a GC sample with no
// capture; stack walking during collection is unsafe.
func (p *Profiler) onTick() {
	p.overallSignals.Add(1)
	if p.rt.InGC() {
		p.gcSamples.Add(1)
		p.overallSamples.Add(1)
		return
	}
	p.rt.Schedule(p.safePointJob)
}

// safePointJob is the deferred stage: capture plus aggregation. The CAS
// keeps it from re-entering itself; the running check makes a job that was
// scheduled before Stop a no-op.
func (p *Profiler) safePointJob() {
	if !p.inJob.CompareAndSwap(false, true) {
		return
	}
	defer p.inJob.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.recordSample()
}

// recordSample counts and captures one sample. An empty capture still counts:
// the global counters advance with no per-frame aggregation. Caller holds
// p.mu.
func (p *Profiler) recordSample() {
	p.overallSamples.Add(1)
	n := p.rt.Capture(p.frameBuf, p.lineBuf)
	if p.cfg.Mode == ModeHeap {
		return
	}
	p.processSample(p.frameBuf[:n], p.lineBuf[:n], p.cfg)
}

// processSample routes one captured stack to the raw log and the aggregation
// table. Also the drain path for tracked heap allocations. Caller holds p.mu.
func (p *Profiler) processSample(frames []host.FrameID, lines []int, cfg Config) {
	if cfg.Raw {
		if p.raw == nil {
			p.raw = newRawLog(len(frames))
		}
		p.raw.append(frames)
	}
	p.frames.record(frames, lines, !cfg.NoAggregate)
}

// objectHandler builds the allocation-event handler for object mode: every
// Nth event runs the standard safe-point job directly. Host allocation
// notifications are not raised from restricted contexts, so no safe-point
// indirection is needed; the job's reentrancy guard still applies.
func (p *Profiler) objectHandler(cfg Config) func(host.ObjectID) {
	every := uint64(cfg.Every)
	return func(host.ObjectID) {
		n := p.overallSignals.Add(1)
		if every > 1 && n%every != 0 {
			return
		}
		p.safePointJob()
	}
}

// heapHandlers builds the allocation and free handlers for heap mode.
func (p *Profiler) heapHandlers(cfg Config) (onAlloc, onFree func(host.ObjectID)) {
	every := uint64(cfg.Every)
	retain := cfg.HeapAll

	onAlloc = func(obj host.ObjectID) {
		n := p.overallSignals.Add(1)
		if every > 1 && n%every != 0 {
			return
		}
		if !p.inJob.CompareAndSwap(false, true) {
			return
		}
		defer p.inJob.Store(false)

		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.running || p.tracker == nil {
			return
		}
		p.overallSamples.Add(1)
		depth := p.rt.Capture(p.frameBuf, p.lineBuf)
		p.tracker.track(obj, p.frameBuf[:depth], p.lineBuf[:depth])
	}

	onFree = func(obj host.ObjectID) {
		p.mu.Lock()
		defer p.mu.Unlock()
		// No running check: frees raised by the reachability pass during
		// Stop must still be honored.
		if p.tracker == nil {
			return
		}
		if p.tracker.free(obj, retain) {
			// The allocation's whole lifetime fell inside the profiling
			// window; it reveals nothing about retained memory, so unwind
			// its signal and sample.
			p.overallSignals.Add(^uint64(0))
			p.overallSamples.Add(^uint64(0))
			p.freedSamples.Add(1)
		}
	}
	return onAlloc, onFree
}
