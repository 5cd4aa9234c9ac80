// Package gohost adapts the Go runtime itself to the profiler's host
// boundary, so a program can self-profile the goroutine driving its workload.
//
// Go has no preemptive safe-point hook to borrow, so gohost makes the
// cooperative model explicit: the workload goroutine calls Checkpoint at
// natural boundaries (an interpreter would do this between ops), and
// scheduled safe-point work runs there, on the workload goroutine, where
// runtime.Callers sees the right stack.
//
// Capabilities: wall and cpu interval timers, manual sampling. No
// allocation/free events; the Go runtime does not expose them.
package gohost

import (
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stackprobe/stackprobe/internal/host"
)

// internalFrame reports whether name belongs to the profiler machinery
// sitting between the workload and runtime.Callers: the profiler core and
// the Checkpoint dispatch itself. Captures exclude those frames.
func internalFrame(name string) bool {
	return strings.HasPrefix(name, "github.com/stackprobe/stackprobe/internal/profiler") ||
		strings.HasSuffix(name, "gohost.(*Runtime).Checkpoint")
}

type pcMeta struct {
	name      string
	file      string
	line      int // call-site line for this pc
	firstLine int // function entry line
}

// Runtime implements host.Runtime and host.TimerSource over the Go runtime.
type Runtime struct {
	logger zerolog.Logger

	mu    sync.Mutex
	jobs  []func()
	timer timerHandle

	// pc resolution cache; hot captures only pay the symbolication cost
	// the first time a pc is seen.
	pcs  []uintptr
	meta map[uintptr]pcMeta
}

// New returns a Runtime ready to be passed to profiler.New.
func New(logger zerolog.Logger) *Runtime {
	return &Runtime{
		logger: logger.With().Str("component", "gohost").Logger(),
		pcs:    make([]uintptr, 2048),
		meta:   make(map[uintptr]pcMeta),
	}
}

// Capture implements host.Runtime: the current goroutine's stack, innermost
// frame first, with profiler-internal frames stripped.
func (r *Runtime) Capture(frames []host.FrameID, lines []int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	depth := runtime.Callers(2, r.pcs)
	max := len(frames)
	if len(lines) < max {
		max = len(lines)
	}

	n := 0
	for _, pc := range r.pcs[:depth] {
		m := r.resolve(pc)
		if internalFrame(m.name) {
			continue
		}
		if n == max {
			break
		}
		frames[n] = host.FrameID(pc)
		lines[n] = m.line
		n++
	}
	return n
}

// resolve symbolizes one pc through the cache. Caller holds r.mu.
func (r *Runtime) resolve(pc uintptr) pcMeta {
	if m, ok := r.meta[pc]; ok {
		return m
	}
	var m pcMeta
	cf, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	m.name = cf.Function
	m.file = cf.File
	m.line = cf.Line
	if fn := runtime.FuncForPC(pc); fn != nil {
		_, m.firstLine = fn.FileLine(fn.Entry())
	}
	r.meta[pc] = m
	return m
}

// FrameInfo implements host.Runtime.
func (r *Runtime) FrameInfo(id host.FrameID) host.FrameInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.resolve(uintptr(id))
	return host.FrameInfo{Name: m.name, File: m.file, FirstLine: m.firstLine}
}

// Schedule implements host.Runtime: the job runs at the workload's next
// Checkpoint.
func (r *Runtime) Schedule(job func()) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
}

// Checkpoint runs any scheduled safe-point work on the calling goroutine.
// The embedding program calls this at points where a sample is meaningful.
func (r *Runtime) Checkpoint() {
	r.mu.Lock()
	jobs := r.jobs
	r.jobs = nil
	r.mu.Unlock()

	for _, job := range jobs {
		job()
	}
}

// InGC implements host.Runtime. Go stops the world for collection instead of
// running managed code through a pause, so a tick never observes one.
func (r *Runtime) InGC() bool { return false }
