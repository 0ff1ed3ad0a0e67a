// Package orchestrator runs one isolated build per cell of a build matrix and merges the
// outputs into a single tree. It knows nothing about the engine doing the builds: callers
// supply the environment, a function building one cell and a function naming its output path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aifoundry-org/multibuild/pkg/matrix"
)

const tracerName = "github.com/aifoundry-org/multibuild/pkg/orchestrator"

// Environment is the shared, read-only base every cell derives its own environment from.
type Environment interface {
	// Check resolves the environment, failing if it is invalid or unreachable.
	Check(ctx context.Context) error
}

// BuildFunc builds one cell in an environment derived from env and returns a handle to its
// output directory. It must not mutate env.
type BuildFunc[E Environment, D any] func(ctx context.Context, cell matrix.Cell, env E) (D, error)

// PathFunc maps a cell to its output path. It must be injective over the cells of a matrix.
type PathFunc func(cell matrix.Cell) string

// Sink materializes a directory at a path under some destination root.
type Sink[D any] interface {
	Write(ctx context.Context, path string, dir D) error
}

// RunResult holds the outputs of the cells that succeeded and the failures of the others.
// Both are in matrix enumeration order.
type RunResult[D any] struct {
	Tree     *OutputTree[D]
	Failures []*CellFailure
}

// Err joins all cell failures, or returns nil if every cell succeeded.
func (r *RunResult[D]) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

type outcome[D any] struct {
	dir D
	err error
}

// Run expands m and builds every cell with buildFn, up to the configured concurrency.
// A failing cell never stops its siblings unless WithFailFast is given.
//
// Run itself fails only before any cell is attempted: with ErrInvalidMatrix when the matrix is
// malformed or pathFn maps two cells to the same path, and with ErrEnvironmentUnavailable when
// env.Check fails. If ctx is cancelled during the run, the partial result is returned along
// with the context error.
func Run[E Environment, D any](ctx context.Context, m matrix.Matrix, env E, buildFn BuildFunc[E, D], pathFn PathFunc, opts ...Option) (*RunResult[D], error) {
	s := newSettings(opts)
	logger := s.logger

	cells, err := matrix.Expand(m)
	if err != nil {
		return nil, err
	}
	paths, err := cellPaths(cells, pathFn)
	if err != nil {
		return nil, err
	}

	logger.Debugf("Checking build environment")
	if err := env.Check(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnvironmentUnavailable, err)
	}

	logger.Infof("Building %d cells of %s", len(cells), m)
	start := time.Now()

	tracer := s.tracerProvider.Tracer(tracerName)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// every cell owns one slot, so no locking is needed while the group runs
	outcomes := make([]outcome[D], len(cells))

	var eg errgroup.Group
	if s.concurrency > 0 {
		eg.SetLimit(s.concurrency)
	}
	for i, cell := range cells {
		eg.Go(func() error {
			cellLogger := logger.WithField("cell", cell.Key())
			if err := runCtx.Err(); err != nil {
				cellLogger.Debugf("Skipping cell, run cancelled")
				outcomes[i] = outcome[D]{err: fmt.Errorf("%w: %w", ErrCancelled, context.Cause(runCtx))}
				return nil
			}
			dir, err := buildCell(runCtx, tracer, cell, env, buildFn)
			outcomes[i] = outcome[D]{dir: dir, err: err}
			if err != nil {
				cellLogger.Warnf("Build failed: %v", err)
				if s.failFast {
					cancel()
				}
				return nil
			}
			cellLogger.Debugf("Build succeeded, output at %s", paths[i])
			return nil
		})
	}
	// cell goroutines never return errors, failures live in outcomes
	_ = eg.Wait()

	result := &RunResult[D]{Tree: NewOutputTree[D]()}
	for i, cell := range cells {
		o := outcomes[i]
		if o.err != nil {
			result.Failures = append(result.Failures, &CellFailure{Cell: cell, Err: o.err})
			continue
		}
		if err := result.Tree.Add(paths[i], cell, o.dir); err != nil {
			// unreachable after cellPaths, kept so a merge problem is never silent
			result.Failures = append(result.Failures, &CellFailure{Cell: cell, Err: err})
		}
	}
	logger.Infof("Built %d of %d cells in %s, %d failed", result.Tree.Len(), len(cells), time.Since(start).Round(time.Millisecond), len(result.Failures))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// buildCell runs buildFn for one cell inside its own span, turning a panic into a failure.
func buildCell[E Environment, D any](ctx context.Context, tracer trace.Tracer, cell matrix.Cell, env E, buildFn BuildFunc[E, D]) (dir D, err error) {
	names, values := cell.Names(), cell.Values()
	attrs := make([]attribute.KeyValue, 0, len(names))
	for i, name := range names {
		attrs = append(attrs, attribute.String("multibuild.axis."+name, values[i]))
	}
	ctx, span := tracer.Start(ctx, "build "+cell.String(), trace.WithAttributes(attrs...))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return buildFn(ctx, cell, env)
}

// cellPaths computes every output path up front so a non-injective pathFn is rejected before
// anything is built. Paths must stay below the export root and no path may contain another.
func cellPaths(cells []matrix.Cell, pathFn PathFunc) ([]string, error) {
	paths := make([]string, len(cells))
	owner := make(map[string]matrix.Cell, len(cells))
	for i, cell := range cells {
		p := pathFn(cell)
		if p == "" {
			return nil, matrix.NewInvalidMatrixError(fmt.Sprintf("empty output path for cell %s", cell))
		}
		clean := path.Clean(p)
		if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
			return nil, matrix.NewInvalidMatrixError(fmt.Sprintf("output path %q of cell %s is outside the export root", p, cell))
		}
		if prev, ok := owner[clean]; ok {
			return nil, fmt.Errorf("%w: %w", ErrPathCollision,
				matrix.NewInvalidMatrixError(fmt.Sprintf("cells %s and %s both map to %q", prev, cell, p)))
		}
		owner[clean] = cell
		paths[i] = p
	}

	// with a trailing slash, a sorted directory is directly followed by anything nested in it
	dirs := make([]string, 0, len(owner))
	for p := range maps.Keys(owner) {
		dirs = append(dirs, p+"/")
	}
	slices.Sort(dirs)
	for i := 1; i < len(dirs); i++ {
		parent, child := dirs[i-1], dirs[i]
		if strings.HasPrefix(child, parent) {
			return nil, fmt.Errorf("%w: %w", ErrPathCollision,
				matrix.NewInvalidMatrixError(fmt.Sprintf("output of cell %s at %q is inside the output of cell %s at %q",
					owner[strings.TrimSuffix(child, "/")], child, owner[strings.TrimSuffix(parent, "/")], parent)))
		}
	}
	return paths, nil
}

// ExportResult lists the paths written by Export, in tree order.
type ExportResult struct {
	Written []string
}

// Export writes every entry of tree to sink in tree order. It stops at the first failure and
// returns an *ExportIncompleteError; paths already written stay written.
func Export[D any](ctx context.Context, tree *OutputTree[D], sink Sink[D], opts ...Option) (*ExportResult, error) {
	logger := newSettings(opts).logger
	result := &ExportResult{Written: []string{}}
	for _, entry := range tree.Entries() {
		logger.Debugf("Exporting %s", entry.Path)
		err := ctx.Err()
		if err == nil {
			err = sink.Write(ctx, entry.Path, entry.Dir)
		}
		if err != nil {
			return result, &ExportIncompleteError{
				Written: append([]string(nil), result.Written...),
				Failed:  entry.Path,
				Cause:   err,
			}
		}
		result.Written = append(result.Written, entry.Path)
	}
	logger.Infof("Exported %d paths", len(result.Written))
	return result, nil
}
