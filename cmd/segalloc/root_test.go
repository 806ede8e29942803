package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segalloc/simulation"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootStdin(t *testing.T) {
	stdout, _, err := execute(t, "10 5\n3 3 3 -1 3\n")
	require.NoError(t, err)
	require.Equal(t, "1\n4\n7\n1\n", stdout)

	stdout, _, err = execute(t, "1 1 2", "-")
	require.NoError(t, err)
	require.Equal(t, "-1\n", stdout)
}

func TestRootInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.txt")
	require.NoError(t, os.WriteFile(path, []byte("6 3 6 -1 2"), 0o600))

	stdout, _, err := execute(t, "", "--validate", path)
	require.NoError(t, err)
	require.Equal(t, "1\n1\n", stdout)

	_, _, err = execute(t, "", filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRootMalformed(t *testing.T) {
	_, _, err := execute(t, "10 2 1 x")
	require.True(t, errors.Is(err, simulation.ErrMalformedInput))

	_, _, err = execute(t, "10 2 -2 1")
	require.True(t, errors.Is(err, simulation.ErrMalformedQuery))

	_, _, err = execute(t, "10 0", "--stats", "sometimes")
	require.Error(t, err)
}

func TestRootStatsAndLogging(t *testing.T) {
	stdout, stderr, err := execute(t, "16 2 4 8", "--stats", "summary")
	require.NoError(t, err)
	require.Equal(t, "1\n5\n", stdout)

	var stats struct {
		Total struct {
			AllocationCount int
			AllocationBytes int
		}
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(stderr)), &stats))
	require.Equal(t, 2, stats.Total.AllocationCount)
	require.Equal(t, 12, stats.Total.AllocationBytes)

	_, stderr, err = execute(t, "16 2 4 8", "--log-level", "debug")
	require.NoError(t, err)
	require.Contains(t, stderr, "Simulator unreleased allocation")
}

func TestRootConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segalloc.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"
stats = "detailed"
`), 0o600))

	_, stderr, err := execute(t, "4 1 4", "--config", path)
	require.NoError(t, err)
	require.Contains(t, stderr, "BestFitBlockMetadata::Alloc")

	// The stats are the last line on stderr, after the debug logs
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	statsLine := lines[len(lines)-1]
	require.True(t, json.Valid([]byte(statsLine)), statsLine)

	var stats struct {
		Total struct {
			AllocationCount int
		}
		Block struct {
			TotalBytes   int
			UnusedRanges int
			Segments     []struct {
				Offset     int
				Size       int
				Type       string
				CustomData string
			}
		}
	}
	require.NoError(t, json.Unmarshal([]byte(statsLine), &stats))
	require.Equal(t, 1, stats.Total.AllocationCount)
	require.Equal(t, 4, stats.Block.TotalBytes)
	require.Equal(t, 0, stats.Block.UnusedRanges)
	require.Len(t, stats.Block.Segments, 1)
	require.Equal(t, "ALLOCATED", stats.Block.Segments[0].Type)
	require.Equal(t, 0, stats.Block.Segments[0].Offset)
	require.Equal(t, 4, stats.Block.Segments[0].Size)
	require.Equal(t, "0", stats.Block.Segments[0].CustomData)

	// Flags win over the file
	_, stderr, err = execute(t, "4 1 4", "--config", path, "--log-level", "error", "--stats", "none")
	require.NoError(t, err)
	require.Empty(t, stderr)
}
