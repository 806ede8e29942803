package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/segalloc/internal/config"
	"github.com/vkngwrapper/segalloc/simulation"
	"golang.org/x/exp/slog"
)

type rootFlags struct {
	configPath   string
	logLevel     string
	stats        string
	validate     bool
	synchronized bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "segalloc [input]",
		Short: "Simulate a best-fit linear memory allocator",
		Long: `segalloc replays a stream of allocation and free queries against a single
block of memory, always carving allocations from the largest free region (the
leftmost one on ties).

The input is the memory size, the query count, and then one integer per query.
A non-negative value allocates that many bytes. A negative value -k frees the
allocation made by query k. For every allocation query, the 1-based start
address of the allocation, or -1 if it did not fit, is written on its own line.

Input is read from the file named on the command line, or stdin when no file
(or "-") is given.

Example:
  echo "10 5 3 3 3 -1 3" | segalloc
  segalloc --stats detailed --log-level debug queries.txt`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}

			return runSimulation(cmd, cfg, args)
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to a TOML config file")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level written to stderr (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.stats, "stats", string(config.StatsNone), "Block statistics printed to stderr after the run (none, summary, detailed)")
	cmd.Flags().BoolVar(&flags.validate, "validate", false, "Check the block's consistency after every query")
	cmd.Flags().BoolVar(&flags.synchronized, "synchronized", false, "Enable the block's internal lock")

	return cmd
}

// resolveConfig loads the config file and applies any flags set on the command line over it
func resolveConfig(cmd *cobra.Command, flags rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if cmd.Flags().Changed("stats") {
		cfg.Stats = config.StatsMode(flags.stats)
	}
	if cmd.Flags().Changed("validate") {
		cfg.Validate = flags.validate
	}
	if cmd.Flags().Changed("synchronized") {
		cfg.Synchronized = flags.synchronized
	}

	if err := cfg.Check(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func openInput(cmd *cobra.Command, args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}

	file, err := os.Open(args[0])
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input")
	}
	return file, nil
}

func runSimulation(cmd *cobra.Command, cfg config.Config, args []string) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	input, err := openInput(cmd, args)
	if err != nil {
		return err
	}
	defer input.Close()

	memorySize, queries, err := simulation.ReadInput(input)
	if err != nil {
		return err
	}

	logger.Debug("Read simulation input",
		slog.Int("MemorySize", memorySize),
		slog.Int("QueryCount", len(queries)),
		slog.Any("Config", cfg))

	sim := simulation.New(logger, cfg.SimulationOptions())
	responses, err := sim.Run(memorySize, queries)
	if err != nil {
		return err
	}

	if err := simulation.WriteResponses(cmd.OutOrStdout(), responses); err != nil {
		return err
	}

	if cfg.Stats != config.StatsNone {
		_, err = fmt.Fprintln(cmd.ErrOrStderr(), sim.BuildStatsString(cfg.Stats == config.StatsDetailed))
		return errors.Wrap(err, "failed to write statistics")
	}

	return nil
}
