package cli

import (
	"github.com/spf13/cobra"

	"github.com/stackprobe/stackprobe/internal/cli/run"
	"github.com/stackprobe/stackprobe/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "stackprobe",
	Short: "Stackprobe - sampling call-stack profiler",
	Long: `Sampling call-stack profiler for cooperative workloads.

Samples the running workload's call stacks on a wall or cpu clock and
aggregates per-frame hit counts, caller edges, and line totals. Reports
can be written as stackprof-style JSON, pprof protobuf, or folded stacks
for flame graphs.

Modes:
- wall:   sample on elapsed wall time (default, 1ms interval)
- cpu:    sample on consumed cpu time
- custom: no timer, samples taken manually
- object/heap: allocation-driven sampling (requires a host with
  allocation events; the built-in Go host has none)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(run.NewRunCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("Stackprobe version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
