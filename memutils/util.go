package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that can describe an offset or a size within a block
type Number interface {
	constraints.Integer
}

// CheckSize returns an error wrapping ErrInvalidSize if size is negative
func CheckSize[T Number](size T, name string) error {
	if size < 0 {
		return cerrors.Wrapf(ErrInvalidSize, "%s is %d", name, size)
	}
	return nil
}

// ClampedSize returns right - left, or 0 when right precedes left
func ClampedSize[T Number](left, right T) T {
	if right >= left {
		return right - left
	}
	return 0
}
