package vector

import "errors"

var (
	// ErrDimensionMismatch indicates a vector whose length differs from the
	// dimension the index was locked to on first insert.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrCorruptIndex indicates the persisted snapshot pair is missing a half
	// or internally inconsistent.
	ErrCorruptIndex = errors.New("corrupt index snapshot")
)
