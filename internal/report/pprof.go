package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/google/pprof/profile"

	"github.com/stackprobe/stackprobe/internal/host"
	"github.com/stackprobe/stackprobe/internal/profiler"
	"github.com/stackprobe/stackprobe/internal/safe"
)

// WritePprof encodes the result as a gzipped pprof protobuf profile.
func WritePprof(w io.Writer, res *profiler.Result) error {
	prof, err := BuildProfile(res)
	if err != nil {
		return err
	}
	if err := prof.Write(w); err != nil {
		return fmt.Errorf("write pprof profile: %w", err)
	}
	return nil
}

// BuildProfile converts a result into a pprof profile. With raw samples
// available every full stack becomes one weighted sample; otherwise the
// profile degrades to leaf-only attribution from the aggregate counts.
func BuildProfile(res *profiler.Result) (*profile.Profile, error) {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
		},
		DefaultSampleType: "samples",
	}
	switch res.Mode {
	case profiler.ModeWall:
		prof.PeriodType = &profile.ValueType{Type: "wallclock", Unit: "nanoseconds"}
		prof.Period = res.Interval * 1000
	case profiler.ModeCPU:
		prof.PeriodType = &profile.ValueType{Type: "cpu", Unit: "nanoseconds"}
		prof.Period = res.Interval * 1000
	default:
		prof.PeriodType = &profile.ValueType{Type: "events", Unit: "count"}
		prof.Period = res.Interval
	}

	b := &profileBuilder{prof: prof, locs: make(map[host.FrameID]*profile.Location)}

	if len(res.Raw) > 0 {
		for _, raw := range res.Raw {
			if len(raw.Stack) == 0 {
				continue
			}
			// Raw stacks are innermost first, which is exactly the pprof
			// location order.
			locs := make([]*profile.Location, len(raw.Stack))
			for i, id := range raw.Stack {
				locs[i] = b.location(id, res)
			}
			repeat, _ := safe.Uint64ToInt64(raw.Repeat)
			prof.Sample = append(prof.Sample, &profile.Sample{
				Location: locs,
				Value:    []int64{repeat},
			})
		}
		return prof, nil
	}

	// Deterministic sample order for the leaf-only fallback.
	ids := make([]host.FrameID, 0, len(res.Frames))
	for id := range res.Frames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		fr := res.Frames[id]
		if fr.Samples == 0 {
			continue
		}
		count, _ := safe.Uint64ToInt64(fr.Samples)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{b.location(id, res)},
			Value:    []int64{count},
		})
	}
	return prof, nil
}

// profileBuilder interns locations and functions per frame identity.
type profileBuilder struct {
	prof *profile.Profile
	locs map[host.FrameID]*profile.Location
}

func (b *profileBuilder) location(id host.FrameID, res *profiler.Result) *profile.Location {
	if loc, ok := b.locs[id]; ok {
		return loc
	}

	name := frameName(res, id)
	var file string
	var line int
	if fr, ok := res.Frames[id]; ok {
		file = fr.File
		line = fr.Line
	}

	fn := &profile.Function{
		ID:        uint64(len(b.prof.Function) + 1),
		Name:      name,
		Filename:  file,
		StartLine: int64(line),
	}
	b.prof.Function = append(b.prof.Function, fn)

	loc := &profile.Location{
		ID:      uint64(len(b.prof.Location) + 1),
		Address: uint64(id),
		Line:    []profile.Line{{Function: fn, Line: int64(line)}},
	}
	b.prof.Location = append(b.prof.Location, loc)
	b.locs[id] = loc
	return loc
}
