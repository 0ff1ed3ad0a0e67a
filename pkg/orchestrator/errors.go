package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aifoundry-org/multibuild/pkg/matrix"
)

var (
	// ErrInvalidMatrix is returned by Run before any work starts when the matrix is malformed
	// or the path function is not injective over its cells.
	ErrInvalidMatrix = matrix.ErrInvalidMatrix
	// ErrPathCollision is returned, alongside ErrInvalidMatrix, when two cells map to the same path.
	ErrPathCollision = errors.New("output path collision")
	// ErrEnvironmentUnavailable is returned by Run when the base environment cannot be resolved.
	ErrEnvironmentUnavailable = errors.New("build environment unavailable")
	// ErrCellBuildFailure is matched by every CellFailure.
	ErrCellBuildFailure = errors.New("cell build failed")
	// ErrCancelled is the cause recorded for cells that never ran because the run was cancelled.
	ErrCancelled = errors.New("cell cancelled before it started")
	// ErrExportIncomplete is matched by ExportIncompleteError.
	ErrExportIncomplete = errors.New("export incomplete")
)

var _ error = &CellFailure{}

// CellFailure records why one cell did not produce an output.
type CellFailure struct {
	Cell matrix.Cell
	Err  error
}

func (e *CellFailure) Error() string {
	return fmt.Sprintf("build %s failed: %v", e.Cell, e.Err)
}

func (e *CellFailure) Unwrap() error {
	return e.Err
}

func (e *CellFailure) Is(target error) bool {
	return target == ErrCellBuildFailure
}

var _ error = &ExportIncompleteError{}

// ExportIncompleteError is returned by Export when the sink fails partway. Paths in Written were
// materialized and are not rolled back, so a caller can retry only from Failed onwards.
type ExportIncompleteError struct {
	Written []string
	Failed  string
	Cause   error
}

func (e *ExportIncompleteError) Error() string {
	return fmt.Sprintf("export incomplete: failed writing %q after [%s]: %v", e.Failed, strings.Join(e.Written, ", "), e.Cause)
}

func (e *ExportIncompleteError) Unwrap() error {
	return e.Cause
}

func (e *ExportIncompleteError) Is(target error) bool {
	if target == ErrExportIncomplete {
		return true
	}
	if _, ok := target.(*ExportIncompleteError); ok {
		return true
	}
	return false
}
