// Package build turns an engine that can run one command into the per-cell build function the
// orchestrator drives.
package build

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"net/url"
	"path"
	"text/template"

	"github.com/aifoundry-org/multibuild/pkg/matrix"
	"github.com/aifoundry-org/multibuild/pkg/orchestrator"
)

// DefaultCommand builds the Go package in the working directory into the cell's output path.
var DefaultCommand = []string{"go", "build", "-o", "{{.Path}}"}

// Request is one command to run in an environment derived from the base one.
type Request struct {
	// Cell is the matrix cell the command builds.
	Cell matrix.Cell
	// Overrides are environment variables set on top of the base environment.
	Overrides map[string]string
	Args      []string
	// OutputPath is the directory, relative to the working directory, holding the outputs.
	OutputPath string
}

// Executor runs a command in an isolated context derived from env and returns a handle to the
// output directory. A command exiting non-zero is reported as an *ExecFailure.
type Executor[E orchestrator.Environment, D any] interface {
	Exec(ctx context.Context, env E, req Request) (D, error)
}

// CellBuilder builds a cell by applying its coordinates as environment overrides and running
// Command through Executor.
type CellBuilder[E orchestrator.Environment, D any] struct {
	Executor Executor[E, D]
	// Command is a list of text/template strings. {{.Path}} is the output path and every axis
	// name, e.g. {{.GOOS}}, is the cell's value on that axis.
	Command []string
	// Env is applied before the cell's own overrides.
	Env  map[string]string
	Path orchestrator.PathFunc
}

// Build has the shape of orchestrator.BuildFunc.
func (b *CellBuilder[E, D]) Build(ctx context.Context, cell matrix.Cell, env E) (D, error) {
	var zero D
	outputPath := b.Path(cell)
	args, err := b.args(cell, outputPath)
	if err != nil {
		return zero, err
	}
	overrides := make(map[string]string, len(b.Env)+len(cell.Names()))
	maps.Copy(overrides, b.Env)
	maps.Copy(overrides, cell.Env())

	return b.Executor.Exec(ctx, env, Request{
		Cell:       cell,
		Overrides:  overrides,
		Args:       args,
		OutputPath: outputPath,
	})
}

func (b *CellBuilder[E, D]) args(cell matrix.Cell, outputPath string) ([]string, error) {
	command := b.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	data := cell.Env()
	data["Path"] = outputPath

	args := make([]string, 0, len(command))
	for _, arg := range command {
		tmpl, err := template.New("arg").Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse command argument %q: %w", arg, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("failed to expand command argument %q: %w", arg, err)
		}
		args = append(args, buf.String())
	}
	return args, nil
}

// PathFunc returns the default output path naming: prefix followed by one path element per
// axis value, e.g. build/linux/amd64/. Values are escaped so a "/" inside a value stays one
// element; a valid matrix has no "", "." or ".." values, so every cell gets its own leaf.
func PathFunc(prefix string) orchestrator.PathFunc {
	return func(cell matrix.Cell) string {
		elems := []string{prefix}
		for _, v := range cell.Values() {
			elems = append(elems, url.PathEscape(v))
		}
		return path.Join(elems...) + "/"
	}
}
