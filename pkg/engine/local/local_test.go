package local

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/aifoundry-org/multibuild/pkg/build"
	"github.com/aifoundry-org/multibuild/pkg/matrix"
	"github.com/aifoundry-org/multibuild/pkg/orchestrator"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newTestEnv(t *testing.T) *Environment {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main\n"), 0644))
	env, err := NewEnvironment(src, map[string]string{"CGO_ENABLED": "0"})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return log.NewEntry(logger)
}

func TestEnvironmentCheck(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Check(context.Background()))

	missing := &Environment{Source: filepath.Join(t.TempDir(), "nope")}
	require.Error(t, missing.Check(context.Background()))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	require.Error(t, (&Environment{Source: file}).Check(context.Background()))
}

func TestRunAndExport(t *testing.T) {
	requireShell(t)
	env := newTestEnv(t)
	b := &build.CellBuilder[*Environment, Dir]{
		Executor: NewExecutor(quietLogger()),
		Command: []string{"sh", "-c",
			`if [ "$GOOS" = linux ] && [ "$GOARCH" = arm64 ]; then echo "no toolchain" >&2; exit 3; fi; ` +
				`test -f main.go && mkdir -p {{.Path}} && echo "$GOOS/$GOARCH/$CGO_ENABLED" > {{.Path}}app`},
		Path: build.PathFunc("build"),
	}
	m := matrix.New(
		matrix.Axis{Name: matrix.AxisOS, Values: []string{"linux", "darwin"}},
		matrix.Axis{Name: matrix.AxisArch, Values: []string{"amd64", "arm64"}},
	)
	result, err := orchestrator.Run(context.Background(), m, env, b.Build, b.Path, orchestrator.WithLogger(quietLogger()))
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"build/linux/amd64/", "build/darwin/amd64/", "build/darwin/arm64/"}, result.Tree.Paths()); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, result.Failures, 1)
	require.ErrorIs(t, result.Failures[0], build.ErrExecFailed)
	var failure *build.ExecFailure
	require.ErrorAs(t, result.Failures[0], &failure)
	require.Equal(t, 3, failure.ExitCode)
	require.Contains(t, failure.Stderr, "no toolchain")

	// builds never touch the source tree
	entries, err := os.ReadDir(env.Source)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	out := t.TempDir()
	exported, err := orchestrator.Export(context.Background(), result.Tree, &Sink{Root: out}, orchestrator.WithLogger(quietLogger()))
	require.NoError(t, err)
	require.Len(t, exported.Written, 3)
	for _, p := range exported.Written {
		data, err := os.ReadFile(filepath.Join(out, p, "app"))
		require.NoError(t, err)
		parts := strings.Split(strings.TrimSpace(string(data)), "/")
		require.Equal(t, []string{"build", parts[0], parts[1], ""}, strings.Split(p, "/"))
		require.Equal(t, "0", parts[2])
	}
}

func TestExecMissingOutput(t *testing.T) {
	requireShell(t)
	env := newTestEnv(t)
	_, err := NewExecutor(quietLogger()).Exec(context.Background(), env, build.Request{
		Args:       []string{"sh", "-c", "true"},
		OutputPath: "build/linux/amd64/",
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, build.ErrExecFailed)
}

func TestExecUnknownCommand(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewExecutor(quietLogger()).Exec(context.Background(), env, build.Request{
		Args:       []string{"definitely-not-a-real-binary-multibuild"},
		OutputPath: "build/",
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, build.ErrExecFailed)
}
