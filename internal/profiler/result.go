package profiler

import (
	"encoding/json"
	"fmt"

	"github.com/stackprobe/stackprobe/internal/host"
)

// ResultVersion identifies the result schema.
const ResultVersion = "1.1"

// Result is the immutable outcome of one or more accumulated sessions. It is
// built exactly once by Results and never mutated afterwards.
type Result struct {
	Version       string                          `json:"version"`
	SessionID     string                          `json:"session_id"`
	Mode          Mode                            `json:"mode"`
	Interval      int64                           `json:"interval"`
	Samples       uint64                          `json:"samples"`
	GCSamples     uint64                          `json:"gc_samples"`
	MissedSamples uint64                          `json:"missed_samples"`
	Frames        map[host.FrameID]*FrameReport   `json:"frames"`
	Raw           []RawSample                     `json:"raw,omitempty"`
}

// FrameReport is the externalized form of one frame's accumulated counts.
type FrameReport struct {
	Name         string                  `json:"name"`
	File         string                  `json:"file"`
	Line         int                     `json:"line,omitempty"`
	TotalSamples uint64                  `json:"total_samples"`
	Samples      uint64                  `json:"samples"`
	Edges        map[host.FrameID]uint64 `json:"edges,omitempty"`
	Lines        map[int]LineCount       `json:"lines,omitempty"`
}

// LineCount is the (total, leaf) weight pair for one source line. The
// original packed both halves into a single word; two explicit fields carry
// the same information.
type LineCount struct {
	Total uint64
	Leaf  uint64
}

// MarshalJSON emits the traditional [total, leaf] pair form.
func (c LineCount) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint64{c.Total, c.Leaf})
}

// UnmarshalJSON accepts the [total, leaf] pair form.
func (c *LineCount) UnmarshalJSON(data []byte) error {
	var pair [2]uint64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("line count: %w", err)
	}
	c.Total, c.Leaf = pair[0], pair[1]
	return nil
}

// RawSample is one run-length-compressed entry of the raw sample log: a full
// stack in capture order (innermost frame first) and how many consecutive
// samples produced exactly that stack.
type RawSample struct {
	Stack  []host.FrameID `json:"stack"`
	Repeat uint64         `json:"repeat"`
}
