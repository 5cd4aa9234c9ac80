// Package config provides configuration loading for the stackprobe CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stackprobe/stackprobe/internal/profiler"
	"github.com/stackprobe/stackprobe/internal/report"
)

// Config is the on-disk configuration. Flags override anything set here.
type Config struct {
	Profile ProfileConfig `yaml:"profile"`
	Log     LogConfig     `yaml:"log"`
}

// Duration is a time.Duration that unmarshals from YAML duration strings
// ("500us", "2ms") as well as bare nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}

	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProfileConfig carries session defaults.
type ProfileConfig struct {
	Mode        string   `yaml:"mode"`
	Interval    Duration `yaml:"interval"`
	Every       int      `yaml:"every"`
	Raw         bool     `yaml:"raw"`
	NoAggregate bool     `yaml:"no_aggregate"`
	HeapAll     bool     `yaml:"heap_all"`
	Out         string   `yaml:"out"`
	Format      string   `yaml:"format"`
}

// LogConfig carries logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration: wall sampling at the standard
// interval, JSON to stdout, pretty info logging.
func Default() *Config {
	return &Config{
		Profile: ProfileConfig{
			Mode:     string(profiler.ModeWall),
			Interval: Duration(profiler.DefaultTimerInterval),
			Format:   string(report.FormatJSON),
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads the configuration file at path, layered over the defaults. An
// empty path returns the defaults; a named file that cannot be read or
// parsed is an error, not a silent fallback.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied config path.
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the profiler or reporters would refuse later.
func (c *Config) Validate() error {
	switch profiler.Mode(c.Profile.Mode) {
	case profiler.ModeWall, profiler.ModeCPU, profiler.ModeObject,
		profiler.ModeHeap, profiler.ModeCustom:
	default:
		return fmt.Errorf("unknown profile mode %q", c.Profile.Mode)
	}

	switch report.Format(c.Profile.Format) {
	case report.FormatJSON, report.FormatPprof, report.FormatFolded:
	default:
		return fmt.Errorf("unknown report format %q", c.Profile.Format)
	}

	if c.Profile.Interval < 0 {
		return fmt.Errorf("negative interval %v", c.Profile.Interval.Std())
	}
	return nil
}
