package profiler

import (
	"github.com/stackprobe/stackprobe/internal/host"
)

// frameStats accumulates per-frame sample counts while a session is running
// or its results are pending. Edge and line maps are created lazily; most
// frames in a typical profile never become aggregation-heavy.
type frameStats struct {
	totalSamples  uint64
	callerSamples uint64
	edges         map[host.FrameID]uint64
	lines         map[int]LineCount
}

// frameTable is the aggregation table keyed by frame identity. It lives from
// the first Start until Results externalizes it, across any number of
// stop/start cycles in between.
type frameTable struct {
	stats map[host.FrameID]*frameStats
}

func newFrameTable() *frameTable {
	return &frameTable{stats: make(map[host.FrameID]*frameStats)}
}

func (t *frameTable) len() int { return len(t.stats) }

func (t *frameTable) statsFor(id host.FrameID) *frameStats {
	fs, ok := t.stats[id]
	if !ok {
		fs = &frameStats{}
		t.stats[id] = fs
	}
	return fs
}

// record folds one captured stack (innermost frame first) into the table.
// Position 0 is the leaf: it gets a caller-sample credit. Every other
// position gets an edge credit keyed by the immediately inner frame, so a
// frame's edges answer "who did I call when I was sampled". Line weights
// carry a separate leaf half so leaf-heavy lines stand out.
func (t *frameTable) record(frames []host.FrameID, lines []int, aggregate bool) {
	for i, id := range frames {
		fs := t.statsFor(id)
		fs.totalSamples++

		if i == 0 {
			fs.callerSamples++
		} else if aggregate {
			if fs.edges == nil {
				fs.edges = make(map[host.FrameID]uint64)
			}
			fs.edges[frames[i-1]]++
		}

		if aggregate && lines[i] > 0 {
			if fs.lines == nil {
				fs.lines = make(map[int]LineCount)
			}
			lc := fs.lines[lines[i]]
			lc.Total++
			if i == 0 {
				lc.Leaf++
			}
			fs.lines[lines[i]] = lc
		}
	}
}

// finalize externalizes every retained frame into a FrameReport, fetching
// frame metadata from the host now rather than on the sampling path, and
// releases the per-frame substructures. Called exactly once, by Results.
func (t *frameTable) finalize(rt host.Runtime) map[host.FrameID]*FrameReport {
	out := make(map[host.FrameID]*FrameReport, len(t.stats))
	for id, fs := range t.stats {
		info := rt.FrameInfo(id)
		fr := &FrameReport{
			Name:         info.Name,
			File:         info.File,
			TotalSamples: fs.totalSamples,
			Samples:      fs.callerSamples,
			Edges:        fs.edges,
			Lines:        fs.lines,
		}
		if info.FirstLine != 0 {
			fr.Line = info.FirstLine
		}
		out[id] = fr
		fs.edges = nil
		fs.lines = nil
		delete(t.stats, id)
	}
	return out
}

// keys returns the identities currently retained by the table.
func (t *frameTable) keys() []host.FrameID {
	ids := make([]host.FrameID, 0, len(t.stats))
	for id := range t.stats {
		ids = append(ids, id)
	}
	return ids
}
