package simulation

import "github.com/cockroachdb/errors"

var (
	// ErrMalformedInput is returned when the query stream cannot be parsed: a token is not an
	// integer, the memory size or query count is negative, or the stream ends early
	ErrMalformedInput error = errors.New("malformed simulation input")
	// ErrMalformedQuery is returned when a free query refers to a query that does not precede it
	ErrMalformedQuery error = errors.New("malformed simulation query")
)
