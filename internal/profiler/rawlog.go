package profiler

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"github.com/stackprobe/stackprobe/internal/host"
)

// rawLog is the append-only record of full per-sample stacks. Records are
// packed into one flat buffer as [len, frame ids..., repeat] and an
// immediately repeated identical stack merges into the previous record's
// repeat count instead of appending. The buffer grows by doubling; a failed
// grow is a hard failure because a record can never be half-written.
type rawLog struct {
	buf []uint64
	// lastIndex is the offset of the most recent record's length word, or
	// -1 while the log is empty.
	lastIndex int
	// lastHash is the xxh3 hash of the most recent record's stack. It lets
	// append reject non-matching stacks without walking them.
	lastHash uint64
	hashBuf  []byte
}

// initialCapacityFactor sizes the buffer from the first observed stack: room
// for that many records of the same depth before the first grow.
const initialCapacityFactor = 100

func newRawLog(firstStackLen int) *rawLog {
	capa := (firstStackLen + 2) * initialCapacityFactor
	return &rawLog{
		buf:       make([]uint64, 0, capa),
		lastIndex: -1,
	}
}

func (l *rawLog) empty() bool { return len(l.buf) == 0 }

// append folds one captured stack (innermost frame first) into the log.
func (l *rawLog) append(stack []host.FrameID) {
	h := l.hash(stack)

	if l.lastIndex >= 0 && l.lastHash == h && l.sameAsLast(stack) {
		l.buf[len(l.buf)-1]++
		return
	}

	need := len(stack) + 2
	if len(l.buf)+need > cap(l.buf) {
		l.grow(len(l.buf) + need)
	}

	l.lastIndex = len(l.buf)
	l.lastHash = h
	l.buf = append(l.buf, uint64(len(stack)))
	for _, id := range stack {
		l.buf = append(l.buf, uint64(id))
	}
	l.buf = append(l.buf, 1)
}

// sameAsLast compares length and identities against the most recent record.
func (l *rawLog) sameAsLast(stack []host.FrameID) bool {
	if l.buf[l.lastIndex] != uint64(len(stack)) {
		return false
	}
	rec := l.buf[l.lastIndex+1 : l.lastIndex+1+len(stack)]
	for i, id := range stack {
		if rec[i] != uint64(id) {
			return false
		}
	}
	return true
}

func (l *rawLog) hash(stack []host.FrameID) uint64 {
	need := len(stack) * 8
	if cap(l.hashBuf) < need {
		l.hashBuf = make([]byte, need)
	}
	b := l.hashBuf[:need]
	for i, id := range stack {
		binary.LittleEndian.PutUint64(b[i*8:], uint64(id))
	}
	return xxh3.Hash(b)
}

// grow doubles the buffer until it can hold at least need words.
func (l *rawLog) grow(need int) {
	capa := cap(l.buf) * 2
	if capa < need {
		capa = need
	}
	next := make([]uint64, len(l.buf), capa)
	copy(next, l.buf)
	l.buf = next
}

// decode expands the packed buffer into (stack, repeat) pairs.
func (l *rawLog) decode() []RawSample {
	var out []RawSample
	for i := 0; i < len(l.buf); {
		n := int(l.buf[i])
		i++
		stack := make([]host.FrameID, n)
		for o := 0; o < n; o++ {
			stack[o] = host.FrameID(l.buf[i+o])
		}
		i += n
		out = append(out, RawSample{Stack: stack, Repeat: l.buf[i]})
		i++
	}
	return out
}
