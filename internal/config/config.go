// Package config loads segalloc's settings from an optional TOML file. Command line flags are
// applied on top of the loaded values by the caller.
package config

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/vkngwrapper/segalloc/simulation"
	"golang.org/x/exp/slog"
)

// StatsMode selects how much of the final block state is printed after a run
type StatsMode string

const (
	StatsNone     StatsMode = "none"
	StatsSummary  StatsMode = "summary"
	StatsDetailed StatsMode = "detailed"
)

// Config holds every setting that can be provided in the config file
type Config struct {
	LogLevel     string    `toml:"log_level"`
	Stats        StatsMode `toml:"stats"`
	Validate     bool      `toml:"validate"`
	Synchronized bool      `toml:"synchronized"`
}

// Default returns the settings used when no config file is provided
func Default() Config {
	return Config{
		LogLevel: "info",
		Stats:    StatsNone,
	}
}

// Parse decodes raw TOML over the default settings. Unknown keys are rejected.
func Parse(raw []byte) (Config, error) {
	cfg := Default()

	decoder := toml.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.Check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the config file at path. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Check returns an error if any setting has an unrecognized value
func (c Config) Check() error {
	if _, err := c.Level(); err != nil {
		return err
	}

	switch c.Stats {
	case StatsNone, StatsSummary, StatsDetailed:
	default:
		return errors.Newf("unknown stats mode %q", c.Stats)
	}

	return nil
}

// Level parses LogLevel as a slog level name such as "debug" or "warn+2"
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	return level, nil
}

// SimulationOptions converts the settings into simulation.Options
func (c Config) SimulationOptions() simulation.Options {
	return simulation.Options{
		Synchronized:     c.Synchronized,
		ValidateEachStep: c.Validate,
	}
}
