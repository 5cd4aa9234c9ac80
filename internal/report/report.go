// Package report encodes finalized profile results for consumption outside
// the process: stackprof-style JSON, pprof protobuf, and folded stacks for
// flame graph tooling.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/stackprobe/stackprobe/internal/errors"
	"github.com/stackprobe/stackprobe/internal/profiler"
)

// Format names a result encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPprof  Format = "pprof"
	FormatFolded Format = "folded"
)

// Write encodes res to w in the given format.
func Write(w io.Writer, res *profiler.Result, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, res)
	case FormatPprof:
		return WritePprof(w, res)
	case FormatFolded:
		return WriteFolded(w, res)
	}
	return fmt.Errorf("unknown report format %q", format)
}

// WriteFile encodes res to a named destination, creating or truncating it.
func WriteFile(path string, res *profiler.Result, format Format, logger zerolog.Logger) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result destination: %w", err)
	}
	defer errors.DeferClose(logger, f, "closing result destination failed")

	if err := Write(f, res, format); err != nil {
		return fmt.Errorf("write %s result: %w", format, err)
	}
	return nil
}

// WriteJSON emits the result envelope as indented JSON.
func WriteJSON(w io.Writer, res *profiler.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
