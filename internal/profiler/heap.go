package profiler

import (
	"github.com/stackprobe/stackprobe/internal/host"
)

// allocation is one tracked heap object: the stack captured when it was
// allocated and whether it is still live. Size is carried for reporting but
// is zero when the host cannot cheaply measure the object at allocation time.
type allocation struct {
	frames []host.FrameID
	lines  []int
	living bool
	size   uint64
}

// heapTracker maps live (and, in retention mode, retained-dead) allocations
// back to the call path that created them. Entries are mutated only at safe
// points, never from an interrupt context.
type heapTracker struct {
	live map[host.ObjectID]*allocation
}

func newHeapTracker() *heapTracker {
	return &heapTracker{live: make(map[host.ObjectID]*allocation)}
}

func (t *heapTracker) len() int { return len(t.live) }

// track records the allocation stack for obj. Hosts reuse object identities
// after collection, so an existing entry is replaced outright; nothing of the
// previous occupant's stack may survive into the new entry.
func (t *heapTracker) track(obj host.ObjectID, frames []host.FrameID, lines []int) {
	info := &allocation{
		frames: append([]host.FrameID(nil), frames...),
		lines:  append([]int(nil), lines...),
		living: true,
	}
	t.live[obj] = info
}

// free handles a free notification for obj. With retainAll the entry is kept
// as a "did not survive" data point; otherwise it is deleted. The return
// value reports whether an entry was deleted, so the caller can unwind the
// counters the allocation contributed.
func (t *heapTracker) free(obj host.ObjectID, retainAll bool) bool {
	info, ok := t.live[obj]
	if !ok {
		return false
	}
	if retainAll {
		info.living = false
		return false
	}
	delete(t.live, obj)
	return true
}

// drainInto feeds every tracked entry with a non-empty captured stack
// through record and releases it. Called once, at session stop; after it the
// tracker is empty.
func (t *heapTracker) drainInto(record func(frames []host.FrameID, lines []int)) {
	for obj, info := range t.live {
		if len(info.frames) > 0 {
			record(info.frames, info.lines)
		}
		delete(t.live, obj)
	}
}

// discard drops every entry without draining. Used in a forked child, where
// inherited object identities are meaningless.
func (t *heapTracker) discard() {
	t.live = make(map[host.ObjectID]*allocation)
}
