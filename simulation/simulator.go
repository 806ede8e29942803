package simulation

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/segalloc/memutils"
	"github.com/vkngwrapper/segalloc/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Options controls how a Simulator drives its block
type Options struct {
	// Synchronized enables the block's internal lock. A Simulator only touches its block from
	// the goroutine calling Run, so this is only needed when the block is shared.
	Synchronized bool
	// ValidateEachStep runs the block's consistency checks after every query and stops the run
	// with an error at the first failure
	ValidateEachStep bool
}

// Simulator replays a query stream against a BestFitBlockMetadata
type Simulator struct {
	logger  *slog.Logger
	options Options
	block   *metadata.BestFitBlockMetadata

	queries []Query
	// handles holds the live allocation made by each query, or NoAllocation
	handles []metadata.BlockAllocationHandle
	freed   []bool
}

// New creates a Simulator. A nil logger discards all output.
func New(logger *slog.Logger, options Options) *Simulator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var flags metadata.CreateFlags
	if !options.Synchronized {
		flags |= metadata.CreateExternallySynchronized
	}

	return &Simulator{
		logger:  logger,
		options: options,
		block:   metadata.NewBestFitBlockMetadata(logger, metadata.CreateOptions{Flags: flags}),
	}
}

// Block returns the block the most recent Run operated on
func (s *Simulator) Block() metadata.BlockMetadata {
	return s.block
}

// ValidateQueries checks that every free query refers to a query that comes before it
func ValidateQueries(queries []Query) error {
	for index, query := range queries {
		if allocation, ok := query.AsAllocationQuery(); ok {
			if err := memutils.CheckSize(allocation.Size, "allocation size"); err != nil {
				return errors.Mark(errors.Wrapf(err, "query %d", index), ErrMalformedQuery)
			}
			continue
		}

		free, ok := query.AsFreeQuery()
		if !ok {
			return errors.Wrapf(ErrMalformedQuery, "query %d has unknown type %s", index, query.Type())
		}
		if free.AllocationQueryIndex < 0 || free.AllocationQueryIndex >= index {
			return errors.Wrapf(ErrMalformedQuery, "query %d frees query %d, which does not precede it", index, free.AllocationQueryIndex)
		}
	}

	return nil
}

// Run resets the block to memorySize free bytes and replays queries against it, returning one
// response per allocation query in order. The queries are validated before anything is applied.
//
// Freeing a failed allocation, a free query, or an allocation that was already freed is a no-op.
func (s *Simulator) Run(memorySize int, queries []Query) ([]AllocationResponse, error) {
	if err := memutils.CheckSize(memorySize, "memory size"); err != nil {
		return nil, errors.Mark(err, ErrMalformedInput)
	}
	if err := ValidateQueries(queries); err != nil {
		return nil, err
	}

	s.block.Init(memorySize)
	s.queries = queries
	s.handles = make([]metadata.BlockAllocationHandle, len(queries))
	s.freed = make([]bool, len(queries))

	responses := make([]AllocationResponse, 0, len(queries))

	for index, query := range queries {
		s.handles[index] = metadata.NoAllocation

		if allocation, ok := query.AsAllocationQuery(); ok {
			response, err := s.allocate(index, allocation)
			if err != nil {
				return nil, err
			}
			responses = append(responses, response)
		} else if free, ok := query.AsFreeQuery(); ok {
			if err := s.free(index, free); err != nil {
				return nil, err
			}
		}

		if s.options.ValidateEachStep {
			if err := s.block.Validate(); err != nil {
				return nil, errors.Wrapf(err, "block is inconsistent after query %d (%s)", index, query)
			}
		}
	}

	s.logUnreleased()
	return responses, nil
}

func (s *Simulator) allocate(index int, query AllocationQuery) (AllocationResponse, error) {
	handle, ok, err := s.block.Allocate(query.Size, index)
	if err != nil {
		return AllocationResponse{}, errors.Wrapf(err, "query %d", index)
	}
	if !ok {
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "Simulator::allocate failed",
			slog.Int("Query", index),
			slog.Int("Size", query.Size))
		return MakeFailedAllocation(), nil
	}

	offset, err := s.block.AllocationOffset(handle)
	if err != nil {
		return AllocationResponse{}, errors.Wrapf(err, "query %d", index)
	}

	s.handles[index] = handle
	return MakeSuccessfulAllocation(offset), nil
}

func (s *Simulator) free(index int, query FreeQuery) error {
	target := query.AllocationQueryIndex
	handle := s.handles[target]

	if handle == metadata.NoAllocation {
		reason := "allocation failed"
		if s.freed[target] {
			reason = "already freed"
		} else if _, isFree := s.queries[target].AsFreeQuery(); isFree {
			reason = "target is a free query"
		}

		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "Simulator::free skipped",
			slog.Int("Query", index),
			slog.Int("Target", target),
			slog.String("Reason", reason))
		return nil
	}

	if err := s.block.Free(handle); err != nil {
		return errors.Wrapf(err, "query %d freeing query %d", index, target)
	}

	s.handles[target] = metadata.NoAllocation
	s.freed[target] = true
	return nil
}

func (s *Simulator) logUnreleased() {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	_ = s.block.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if free {
			return nil
		}

		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "Simulator unreleased allocation",
			slog.Int("Offset", offset),
			slog.Int("Size", size),
			slog.Any("Query", userData))
		return nil
	})
}

// Statistics sums the block's cheap statistics into a zeroed total
func (s *Simulator) Statistics() memutils.Statistics {
	var blockStats memutils.Statistics
	s.block.AddStatistics(&blockStats)

	var total memutils.Statistics
	total.AddStatistics(&blockStats)
	return total
}

// CalculateStatistics clears stats and sums the block's detailed statistics into it
func (s *Simulator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()

	var blockStats memutils.DetailedStatistics
	blockStats.Clear()
	s.block.AddDetailedStatistics(&blockStats)

	stats.AddDetailedStatistics(&blockStats)
}

// BuildStatsString renders the block's statistics as json. If detailedMap is true, every
// segment in the block is included as well.
func (s *Simulator) BuildStatsString(detailedMap bool) string {
	var stats memutils.DetailedStatistics
	s.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	total := obj.Name("Total").Object()
	total.Name("BlockCount").Int(stats.BlockCount)
	total.Name("BlockBytes").Int(stats.BlockBytes)
	total.Name("AllocationCount").Int(stats.AllocationCount)
	total.Name("AllocationBytes").Int(stats.AllocationBytes)
	total.Name("UnusedBytes").Int(stats.UnusedBytes())
	total.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		total.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		total.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		total.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		total.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
	total.End()

	if detailedMap {
		block := obj.Name("Block").Object()
		s.block.PrintDetailedMap(&block)
		block.End()
	}

	obj.End()
	return string(writer.Bytes())
}
