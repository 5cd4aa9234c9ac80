package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/stackprobe/stackprobe/internal/host"
	"github.com/stackprobe/stackprobe/internal/profiler"
)

// ErrNoRawSamples is returned when a folded report is requested for a result
// collected without raw capture; folding needs full stacks, not aggregates.
var ErrNoRawSamples = errors.New("folded output requires raw samples")

// WriteFolded emits "root;...;leaf count" lines, one per distinct stack,
// sorted for deterministic output. This is the classic collapsed-stack input
// for flame graph generators.
func WriteFolded(w io.Writer, res *profiler.Result) error {
	if len(res.Raw) == 0 {
		return ErrNoRawSamples
	}

	stacks := make(map[string]uint64)
	for _, raw := range res.Raw {
		stacks[foldedKey(res, raw.Stack)] += raw.Repeat
	}

	keys := make([]string, 0, len(stacks))
	for k := range stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %d\n", k, stacks[k]); err != nil {
			return fmt.Errorf("write folded stack: %w", err)
		}
	}
	return nil
}

// foldedKey renders one stack root-first. Raw stacks are stored innermost
// frame first, so the walk is reversed.
func foldedKey(res *profiler.Result, stack []host.FrameID) string {
	names := make([]string, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		names = append(names, frameName(res, stack[i]))
	}
	return strings.Join(names, ";")
}

func frameName(res *profiler.Result, id host.FrameID) string {
	if fr, ok := res.Frames[id]; ok && fr.Name != "" {
		return fr.Name
	}
	return fmt.Sprintf("frame_%d", id)
}
