// Package run implements the stackprobe run command: it profiles the
// built-in demo workload under a live session and writes the report.
package run

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stackprobe/stackprobe/internal/config"
	"github.com/stackprobe/stackprobe/internal/host/gohost"
	"github.com/stackprobe/stackprobe/internal/logging"
	"github.com/stackprobe/stackprobe/internal/profiler"
	"github.com/stackprobe/stackprobe/internal/report"
)

// runOptions holds the flag values for one invocation.
type runOptions struct {
	configPath  string
	mode        string
	interval    time.Duration
	every       int
	raw         bool
	noAggregate bool
	heapAll     bool
	out         string
	format      string
	duration    time.Duration
	logLevel    string
}

// apply overlays the flags that were explicitly set onto cfg, so the config
// file provides defaults and the command line wins.
func (o *runOptions) apply(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("mode") {
		cfg.Profile.Mode = o.mode
	}
	if flags.Changed("interval") {
		cfg.Profile.Interval = config.Duration(o.interval)
	}
	if flags.Changed("every") {
		cfg.Profile.Every = o.every
	}
	if flags.Changed("raw") {
		cfg.Profile.Raw = o.raw
	}
	if flags.Changed("no-aggregate") {
		cfg.Profile.NoAggregate = o.noAggregate
	}
	if flags.Changed("heap-all") {
		cfg.Profile.HeapAll = o.heapAll
	}
	if flags.Changed("out") {
		cfg.Profile.Out = o.out
	}
	if flags.Changed("format") {
		cfg.Profile.Format = o.format
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
}

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Profile the demo workload and write the report",
		Long: `Run the built-in demo workload under a profiling session.

The workload is a deterministic busy loop with a few distinct hot
functions, so the resulting profile has recognizable shape. Reports go
to stdout unless --out names a file; logs go to stderr.

Examples:
  # 2s wall profile as stackprof-style JSON
  stackprobe run

  # CPU profile with raw stacks, rendered as a flame graph
  stackprobe run --mode cpu --raw --format folded | flamegraph.pl > cpu.svg

  # pprof output for go tool pprof
  stackprobe run --format pprof --out demo.pb.gz

  # Manual sampling at workload checkpoints
  stackprobe run --mode custom --duration 500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.apply(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewWithComponent(logging.Config{
				Level:  cfg.Log.Level,
				Pretty: cfg.Log.Pretty,
			}, "cli")

			return runSession(cfg, opts.duration, logger)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "Config file (YAML, merged under flags)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "wall", "Sampling mode: wall, cpu, object, heap, custom")
	cmd.Flags().DurationVarP(&opts.interval, "interval", "i", profiler.DefaultTimerInterval, "Timer interval for wall/cpu modes")
	cmd.Flags().IntVar(&opts.every, "every", 0, "Event stride for object/heap modes (sample every Nth event)")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Keep the raw sample log alongside the aggregates")
	cmd.Flags().BoolVar(&opts.noAggregate, "no-aggregate", false, "Skip caller edge accounting")
	cmd.Flags().BoolVar(&opts.heapAll, "heap-all", false, "Heap mode: retain freed allocations in the report")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "Report format: json, pprof, folded")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 2*time.Second, "How long to run the workload")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	return cmd
}

func runSession(cfg *config.Config, duration time.Duration, logger zerolog.Logger) error {
	rt := gohost.New(logger)
	p := profiler.New(rt, logger)

	pcfg := profiler.Config{
		Mode:        profiler.Mode(cfg.Profile.Mode),
		Interval:    cfg.Profile.Interval.Std(),
		Every:       cfg.Profile.Every,
		Raw:         cfg.Profile.Raw,
		NoAggregate: cfg.Profile.NoAggregate,
		HeapAll:     cfg.Profile.HeapAll,
		Out:         cfg.Profile.Out,
	}

	started, err := p.Start(pcfg)
	if err != nil {
		return fmt.Errorf("start profiling session: %w", err)
	}
	if !started {
		return errors.New("a profiling session is already running")
	}

	logger.Info().
		Str("mode", cfg.Profile.Mode).
		Dur("duration", duration).
		Msg("Profiling demo workload")

	manual := profiler.Mode(cfg.Profile.Mode) == profiler.ModeCustom
	runWorkload(rt, p, duration, manual)

	p.Stop()
	res := p.Results()
	if res == nil {
		return errors.New("session produced no results")
	}

	format := report.Format(cfg.Profile.Format)
	if cfg.Profile.Out != "" {
		return report.WriteFile(cfg.Profile.Out, res, format, logger)
	}
	return report.Write(os.Stdout, res, format)
}
