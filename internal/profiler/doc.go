// Package profiler implements a sampling call-stack profiler for a managed
// runtime embedded in the process. A session attaches to host execution
// through an interval timer, allocation/free notifications, or manual
// triggers; each trigger captures the current call stack through the host and
// folds it into a running call-graph profile (per-frame totals, caller edges,
// per-line weights), optionally keeping the raw run-length-compressed sample
// sequence, or, in heap mode, attributing still-live allocations back to
// their allocation site.
//
// The package never walks stacks itself and never runs real work in an
// interrupt context: tick and event callbacks only touch atomic counters and
// hand the rest to the host's safe-point scheduler. At most one session is
// active at a time.
package profiler
