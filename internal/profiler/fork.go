package profiler

import (
	"github.com/stackprobe/stackprobe/internal/host"
)

// Fork coordination. Interval timer arming does not transfer cleanly across
// process duplication, so the host's fork hooks must bracket a fork with
// these three calls.

// PreFork disarms an active interval timer ahead of process duplication.
// No-op for sessions without a timer.
func (p *Profiler) PreFork() {
	p.mu.Lock()
	running, cfg := p.running, p.cfg
	p.mu.Unlock()

	if !running || !cfg.timerMode() {
		return
	}
	if ts, ok := p.rt.(host.TimerSource); ok {
		ts.DisarmTimer()
	}
}

// PostForkParent re-arms the timer with the unchanged interval in the parent,
// provided the session is still active.
func (p *Profiler) PostForkParent() {
	p.mu.Lock()
	running, cfg := p.running, p.cfg
	p.mu.Unlock()

	if !running || !cfg.timerMode() {
		return
	}
	ts, ok := p.rt.(host.TimerSource)
	if !ok {
		return
	}
	if err := ts.ArmTimer(cfg.clock(), cfg.Interval, p.onTick); err != nil {
		p.logger.Error().Err(err).Msg("Failed to re-arm timer after fork")
	}
}

// PostForkChild unconditionally stops the session in the forked child. In
// heap mode the tracked entries are discarded first, without draining: the
// child's object identities are not guaranteed meaningful, and draining them
// would double-count or use stale snapshots.
func (p *Profiler) PostForkChild() {
	p.mu.Lock()
	if p.running && p.cfg.Mode == ModeHeap && p.tracker != nil {
		p.tracker.discard()
	}
	p.mu.Unlock()

	p.Stop()
}
