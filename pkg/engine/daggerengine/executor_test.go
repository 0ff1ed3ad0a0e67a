package daggerengine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dagger.io/dagger"
	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/aifoundry-org/multibuild/pkg/build"
	"github.com/aifoundry-org/multibuild/pkg/matrix"
	"github.com/aifoundry-org/multibuild/pkg/orchestrator"
)

func TestExecErrorConversion(t *testing.T) {
	engineErr := &dagger.ExecError{Cmd: []string{"go", "build", "-o", "build/linux/arm64/"}, ExitCode: 1, Stderr: "undefined: x"}
	err := execError([]string{"ignored"}, engineErr)

	var failure *build.ExecFailure
	require.ErrorAs(t, err, &failure)
	require.ErrorIs(t, err, build.ErrExecFailed)
	require.Equal(t, 1, failure.ExitCode)
	require.Equal(t, "undefined: x", failure.Stderr)
	if diff := cmp.Diff([]string{"go", "build", "-o", "build/linux/arm64/"}, failure.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	pullErr := errors.New("pull access denied")
	err = execError([]string{"go", "build"}, pullErr)
	require.ErrorIs(t, err, pullErr)
	require.NotErrorIs(t, err, build.ErrExecFailed)
}

func TestEnvironmentBase(t *testing.T) {
	latest, v118 := &dagger.Container{}, &dagger.Container{}
	env := &Environment{
		image: DefaultImage,
		bases: map[string]*dagger.Container{
			DefaultImage:   latest,
			GoImage("1.18"): v118,
		},
	}
	ctr, err := env.base(matrix.NewCell(0, []string{matrix.AxisOS}, []string{"linux"}))
	require.NoError(t, err)
	require.Same(t, latest, ctr)

	ctr, err = env.base(matrix.NewCell(0, []string{matrix.AxisGoVersion, matrix.AxisOS}, []string{"1.18", "linux"}))
	require.NoError(t, err)
	require.Same(t, v118, ctr)

	_, err = env.base(matrix.NewCell(0, []string{matrix.AxisGoVersion}, []string{"1.99"}))
	require.Error(t, err)
}

func TestEnvironmentBaseIgnoresEnvOverrides(t *testing.T) {
	latest := &dagger.Container{}
	env := &Environment{image: DefaultImage, bases: map[string]*dagger.Container{DefaultImage: latest}}

	// a GOVERSION that only comes from extra env vars must not pick an image
	req := build.Request{
		Cell:      matrix.NewCell(0, []string{matrix.AxisOS}, []string{"linux"}),
		Overrides: map[string]string{matrix.AxisGoVersion: "1.18", matrix.AxisOS: "linux"},
	}
	ctr, err := env.base(req.Cell)
	require.NoError(t, err)
	require.Same(t, latest, ctr)
}

func TestSortedKeys(t *testing.T) {
	got := sortedKeys(map[string]int{"GOOS": 1, "CGO_ENABLED": 2, "GOARCH": 3})
	if diff := cmp.Diff([]string{"CGO_ENABLED", "GOARCH", "GOOS"}, got); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

// TestEngineBuild needs a reachable Dagger engine and is skipped unless MULTIBUILD_DAGGER_TEST is set.
func TestEngineBuild(t *testing.T) {
	if os.Getenv("MULTIBUILD_DAGGER_TEST") == "" || testing.Short() {
		t.Skip("set MULTIBUILD_DAGGER_TEST to run against a dagger engine")
	}
	ctx := context.Background()
	logger := log.NewEntry(log.StandardLogger())

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "go.mod"), []byte("module example.com/hello\n\ngo 1.21\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0644))

	engine, err := Connect(ctx, logger, 2)
	require.NoError(t, err)
	defer engine.Close()

	env := engine.Environment(EnvironmentOpts{Source: src})
	b := &build.CellBuilder[*Environment, *dagger.Directory]{
		Executor: NewExecutor(logger),
		Path:     build.PathFunc("build"),
	}
	m := matrix.New(
		matrix.Axis{Name: matrix.AxisOS, Values: []string{"linux", "darwin"}},
		matrix.Axis{Name: matrix.AxisArch, Values: []string{"amd64", "arm64"}},
	)
	result, err := orchestrator.Run(ctx, m, env, b.Build, b.Path, orchestrator.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, result.Err())

	out := t.TempDir()
	_, err = orchestrator.Export(ctx, result.Tree, &Sink{Root: out}, orchestrator.WithLogger(logger))
	require.NoError(t, err)
	for _, p := range result.Tree.Paths() {
		entries, err := os.ReadDir(filepath.Join(out, p))
		require.NoError(t, err)
		require.NotEmpty(t, entries, "no binary in %s", p)
	}
}
