package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDimension is returned when an index is constructed with a non-positive dimension.
	ErrInvalidDimension = errors.New("dimensions must be positive")

	// ErrCorruptSnapshot is returned by Load when the snapshot cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt index snapshot")
)

// ErrDimensionMismatch indicates a vector whose length differs from the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Actual, e.Expected)
}
