package daggerengine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"dagger.io/dagger"
	log "github.com/sirupsen/logrus"

	"github.com/aifoundry-org/multibuild/pkg/build"
	"github.com/aifoundry-org/multibuild/pkg/matrix"
)

// Environment holds one base container per image. The containers are immutable: every
// With* call returns a derived container, so cells never see each other's settings.
type Environment struct {
	image string
	bases map[string]*dagger.Container
}

// Check pulls every base image and resolves the source mount.
func (e *Environment) Check(ctx context.Context) error {
	for _, image := range sortedKeys(e.bases) {
		if _, err := e.bases[image].Sync(ctx); err != nil {
			return fmt.Errorf("failed to prepare %s: %w", image, err)
		}
	}
	return nil
}

// base returns the container a cell starts from, picked by its Go version override if any.
func (e *Environment) base(cell matrix.Cell) (*dagger.Container, error) {
	image := e.image
	if v, ok := cell.Value(matrix.AxisGoVersion); ok {
		image = GoImage(v)
	}
	ctr, ok := e.bases[image]
	if !ok {
		return nil, fmt.Errorf("no base container for image %s", image)
	}
	return ctr, nil
}

// Executor runs build commands as container execs.
type Executor struct {
	logger *log.Entry
}

func NewExecutor(logger *log.Entry) *Executor {
	return &Executor{logger: logger.WithField("engine", "dagger")}
}

func (x *Executor) Exec(ctx context.Context, env *Environment, req build.Request) (*dagger.Directory, error) {
	ctr, err := env.base(req.Cell)
	if err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(req.Overrides) {
		if name == matrix.AxisGoVersion {
			continue
		}
		ctr = ctr.WithEnvVariable(name, req.Overrides[name])
	}
	ctr = ctr.WithExec(req.Args)

	x.logger.Debugf("Running %v with %v", req.Args, req.Overrides)
	// evaluate now so the failure belongs to this cell rather than surfacing at export
	dir, err := ctr.Directory(req.OutputPath).Sync(ctx)
	if err != nil {
		return nil, execError(req.Args, err)
	}
	return dir, nil
}

// execError turns an exec failure reported by the engine into a build.ExecFailure and wraps
// anything else.
func execError(args []string, err error) error {
	var execErr *dagger.ExecError
	if errors.As(err, &execErr) {
		failure := &build.ExecFailure{
			Args:     execErr.Cmd,
			ExitCode: execErr.ExitCode,
			Stderr:   execErr.Stderr,
			Err:      err,
		}
		if len(failure.Args) == 0 {
			failure.Args = args
		}
		return failure
	}
	return fmt.Errorf("failed to build %v: %w", args, err)
}

// Sink exports directories to the host under Root.
type Sink struct {
	Root string
}

func (s *Sink) Write(ctx context.Context, path string, dir *dagger.Directory) error {
	if _, err := dir.Export(ctx, filepath.Join(s.Root, filepath.FromSlash(path))); err != nil {
		return fmt.Errorf("failed to export %s: %w", path, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
