package sparse

import "errors"

var (
	// ErrBadShape is returned for a negative dimension or power.
	ErrBadShape = errors.New("sparse: invalid shape")

	// ErrOutOfRange indicates a row or column index outside the matrix.
	ErrOutOfRange = errors.New("sparse: index out of range")

	// ErrDimensionMismatch indicates incompatible operand dimensions.
	ErrDimensionMismatch = errors.New("sparse: dimension mismatch")

	// ErrNonSquare signals that a square matrix was required.
	ErrNonSquare = errors.New("sparse: matrix is not square")

	// ErrNaNInf signals a NaN or infinite entry.
	ErrNaNInf = errors.New("sparse: NaN or Inf encountered")
)
