package matrix

import "errors"

// ErrInvalidMatrix is matched by every error returned for a malformed matrix.
var ErrInvalidMatrix = errors.New("invalid matrix")

var _ error = &InvalidMatrixError{}

type InvalidMatrixError struct {
	m string
}

func (e *InvalidMatrixError) Error() string {
	return "invalid matrix: " + e.m
}

func (e *InvalidMatrixError) Is(target error) bool {
	if target == ErrInvalidMatrix {
		return true
	}
	if _, ok := target.(*InvalidMatrixError); ok {
		return true
	}
	return false
}

// NewInvalidMatrixError reports a malformed matrix. It is also used outside this package,
// e.g. for a path function that maps two cells to the same path.
func NewInvalidMatrixError(msg string) error {
	return &InvalidMatrixError{m: msg}
}
