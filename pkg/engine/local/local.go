// Package local runs cell builds as processes on the host. Each cell gets its own copy of the
// source tree, so builds cannot see each other's outputs.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/aifoundry-org/multibuild/pkg/build"
	"github.com/aifoundry-org/multibuild/pkg/util"
)

// Dir is an output directory on the host.
type Dir struct {
	Path string
}

// Environment is a source tree plus base environment variables. It is never modified by
// Exec; every cell works in a scratch copy.
type Environment struct {
	Source  string
	Env     map[string]string
	scratch string
}

// NewEnvironment creates the scratch area cells are built in. Close removes it.
func NewEnvironment(source string, env map[string]string) (*Environment, error) {
	scratch, err := os.MkdirTemp("", "multibuild-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Environment{Source: source, Env: env, scratch: scratch}, nil
}

func (e *Environment) Check(ctx context.Context) error {
	info, err := os.Stat(e.Source)
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", e.Source)
	}
	return nil
}

func (e *Environment) Close() error {
	return os.RemoveAll(e.scratch)
}

// Executor runs commands with os/exec.
type Executor struct {
	logger *log.Entry
}

func NewExecutor(logger *log.Entry) *Executor {
	return &Executor{logger: logger.WithField("engine", "local")}
}

func (x *Executor) Exec(ctx context.Context, env *Environment, req build.Request) (Dir, error) {
	if len(req.Args) == 0 {
		return Dir{}, errors.New("empty command")
	}
	workdir, err := os.MkdirTemp(env.scratch, "cell-")
	if err != nil {
		return Dir{}, fmt.Errorf("failed to create cell directory: %w", err)
	}
	if err := util.CopyDir(env.Source, workdir); err != nil {
		return Dir{}, fmt.Errorf("failed to copy source into cell directory: %w", err)
	}

	output := x.logger.WriterLevel(log.DebugLevel)
	defer output.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, req.Args[0], req.Args[1:]...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), envList(env.Env)...)
	cmd.Env = append(cmd.Env, envList(req.Overrides)...)
	cmd.Stdout = output
	cmd.Stderr = io.MultiWriter(&stderr, output)

	x.logger.Debugf("Running %v in %s", req.Args, workdir)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Dir{}, &build.ExecFailure{
				Args:     req.Args,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
				Err:      err,
			}
		}
		return Dir{}, fmt.Errorf("failed to run %s: %w", req.Args[0], err)
	}

	out := filepath.Join(workdir, filepath.FromSlash(req.OutputPath))
	info, err := os.Stat(out)
	if err != nil {
		return Dir{}, fmt.Errorf("build produced no output at %s: %w", req.OutputPath, err)
	}
	if !info.IsDir() {
		return Dir{}, fmt.Errorf("build output %s is not a directory", req.OutputPath)
	}
	return Dir{Path: out}, nil
}

// envList renders vars as KEY=VALUE, sorted so later duplicates win deterministically.
func envList(vars map[string]string) []string {
	list := make([]string, 0, len(vars))
	for k, v := range vars {
		list = append(list, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(list)
	return list
}

// Sink copies directories under Root.
type Sink struct {
	Root string
}

func (s *Sink) Write(ctx context.Context, path string, dir Dir) error {
	dst := filepath.Join(s.Root, filepath.FromSlash(path))
	if err := util.CopyDir(dir.Path, dst); err != nil {
		return fmt.Errorf("failed to export %s: %w", path, err)
	}
	return nil
}
