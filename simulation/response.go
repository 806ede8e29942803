package simulation

import (
	"bufio"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
)

// AllocationResponse is the outcome of one allocation query
type AllocationResponse struct {
	Success  bool
	Position int
}

// MakeSuccessfulAllocation builds the response for an allocation placed at the 0-based position
func MakeSuccessfulAllocation(position int) AllocationResponse {
	return AllocationResponse{Success: true, Position: position}
}

// MakeFailedAllocation builds the response for an allocation that did not fit
func MakeFailedAllocation() AllocationResponse {
	return AllocationResponse{}
}

// Encode returns the 1-based start address of a successful allocation, or -1
func (r AllocationResponse) Encode() int {
	if !r.Success {
		return -1
	}
	return r.Position + 1
}

// WriteResponses writes one encoded response per line
func WriteResponses(w io.Writer, responses []AllocationResponse) error {
	buffered := bufio.NewWriter(w)

	var line []byte
	for _, response := range responses {
		line = strconv.AppendInt(line[:0], int64(response.Encode()), 10)
		line = append(line, '\n')

		if _, err := buffered.Write(line); err != nil {
			return errors.Wrap(err, "failed to write responses")
		}
	}

	return errors.Wrap(buffered.Flush(), "failed to write responses")
}
