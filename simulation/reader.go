package simulation

import (
	"bufio"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segalloc/memutils"
)

// Reader decodes a whitespace-separated query stream: the memory size, the number of
// queries, then that many signed integers in the form accepted by ParseQuery
type Reader struct {
	scanner *bufio.Scanner
	tokens  int
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanWords)

	return &Reader{scanner: scanner}
}

func (r *Reader) readInt(name string) (int, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return 0, errors.Wrapf(err, "failed to read %s", name)
		}
		return 0, errors.Wrapf(ErrMalformedInput, "stream ended before %s (token %d)", name, r.tokens)
	}

	token := r.scanner.Text()
	r.tokens++

	value, err := strconv.Atoi(token)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "%s at token %d", name, r.tokens-1), ErrMalformedInput)
	}
	return value, nil
}

func (r *Reader) readNonNegative(name string) (int, error) {
	value, err := r.readInt(name)
	if err != nil {
		return 0, err
	}

	if err := memutils.CheckSize(value, name); err != nil {
		return 0, errors.Mark(err, ErrMalformedInput)
	}
	return value, nil
}

// ReadMemorySize reads the size of the simulated address space
func (r *Reader) ReadMemorySize() (int, error) {
	return r.readNonNegative("memory size")
}

// ReadQueries reads the query count followed by that many queries
func (r *Reader) ReadQueries() ([]Query, error) {
	count, err := r.readNonNegative("query count")
	if err != nil {
		return nil, err
	}

	queries := make([]Query, 0, min(count, 1<<16))
	for i := 0; i < count; i++ {
		value, err := r.readInt("query " + strconv.Itoa(i))
		if err != nil {
			return nil, err
		}

		queries = append(queries, ParseQuery(value))
	}

	return queries, nil
}

// ReadInput reads a complete simulation input from r
func ReadInput(r io.Reader) (memorySize int, queries []Query, err error) {
	reader := NewReader(r)

	memorySize, err = reader.ReadMemorySize()
	if err != nil {
		return 0, nil, err
	}

	queries, err = reader.ReadQueries()
	if err != nil {
		return 0, nil, err
	}

	return memorySize, queries, nil
}
