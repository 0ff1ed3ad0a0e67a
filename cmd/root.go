package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"dagger.io/dagger"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aifoundry-org/multibuild/pkg/build"
	"github.com/aifoundry-org/multibuild/pkg/config"
	"github.com/aifoundry-org/multibuild/pkg/engine/daggerengine"
	"github.com/aifoundry-org/multibuild/pkg/engine/local"
	"github.com/aifoundry-org/multibuild/pkg/image"
	logpkg "github.com/aifoundry-org/multibuild/pkg/log"
	"github.com/aifoundry-org/multibuild/pkg/matrix"
	"github.com/aifoundry-org/multibuild/pkg/orchestrator"
)

func rootCmd() (*cobra.Command, error) {
	var (
		configPath string
		dumpConfig bool
		saveConfig string
		overwrite  bool
		verbose    int
		// flag values, only applied over the config file when set
		flags = config.Default()
	)

	cmd := &cobra.Command{
		Use:          "multibuild",
		Short:        "Cross-compile a Go application for every OS/architecture in a build matrix",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logpkg.New(verbose, "multibuild")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if dumpConfig {
				data, err := cfg.ToJSON()
				if err != nil {
					return fmt.Errorf("failed to encode config: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if saveConfig != "" {
				if err := cfg.Save(saveConfig, overwrite); err != nil {
					return err
				}
				logger.Infof("Saved configuration to %s", saveConfig)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Infof("Building with %s", cfg.Engine)
			switch cfg.Engine {
			case config.EngineLocal:
				return runLocal(ctx, logger, cfg)
			default:
				return runDagger(ctx, logger, cfg)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", fmt.Sprintf("Path to TOML config file (default %s, if it exists)", config.DefaultPath()))
	cmd.Flags().BoolVar(&dumpConfig, "dump-config", false, "Print the effective configuration as JSON and exit")
	cmd.Flags().StringVar(&saveConfig, "save-config", "", "Write the effective configuration as TOML to this path and exit")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Allow --save-config to replace an existing file")
	cmd.Flags().CountVarP(&verbose, "verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	cmd.Flags().StringVar(&flags.Engine, "engine", flags.Engine, "Build engine to use: dagger or local")
	cmd.Flags().StringSliceVar(&flags.OSes, "os", flags.OSes, "Target operating systems (GOOS)")
	cmd.Flags().StringSliceVar(&flags.Arches, "arch", flags.Arches, "Target architectures (GOARCH)")
	cmd.Flags().StringSliceVar(&flags.GoVersions, "go-version", nil, "Go toolchain versions to build with, each using golang:<version> (dagger only)")
	cmd.Flags().StringVar(&flags.Image, "image", flags.Image, "Base image for builds without --go-version")
	cmd.Flags().StringVar(&flags.Source, "source", flags.Source, "Source directory to build")
	cmd.Flags().StringSliceVar(&flags.Exclude, "exclude", nil, "Patterns to exclude from the mounted source (dagger only)")
	cmd.Flags().StringVar(&flags.Workdir, "workdir", flags.Workdir, "Directory the source is mounted at in the build container")
	cmd.Flags().StringArrayVar(&flags.Command, "command", nil, "Build command, one argument per flag; {{.Path}} and {{.GOOS}}-style placeholders are expanded (default \"go build -o {{.Path}}\")")
	cmd.Flags().StringToStringVar(&flags.Env, "env", nil, "Extra environment variables for every build, as KEY=VALUE")
	cmd.Flags().BoolVar(&flags.Cache, "cache", false, "Mount shared Go module and build caches (dagger only)")
	cmd.Flags().StringVar(&flags.Output, "output", flags.Output, "Directory to export build outputs to")
	cmd.Flags().StringVar(&flags.Prefix, "prefix", flags.Prefix, "Path prefix of every output directory")
	cmd.Flags().StringVar(&flags.OCIRef, "oci-ref", "", "If set, also bundle every exported output as an OCI image tarball tagged with this reference")
	cmd.Flags().IntVar(&flags.Concurrency, "concurrency", 0, "Maximum number of builds at once, 0 for no limit")
	cmd.Flags().BoolVar(&flags.FailFast, "fail-fast", false, "Cancel remaining builds as soon as one fails")
	cmd.Flags().IntVar(&flags.ConnectRetries, "connect-retries", flags.ConnectRetries, "Times to retry connecting to the dagger engine")

	return cmd, nil
}

// applyFlags copies every flag the user set over the loaded config.
func applyFlags(cmd *cobra.Command, cfg, flags *config.Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("engine", func() { cfg.Engine = flags.Engine })
	set("os", func() { cfg.OSes = flags.OSes })
	set("arch", func() { cfg.Arches = flags.Arches })
	set("go-version", func() { cfg.GoVersions = flags.GoVersions })
	set("image", func() { cfg.Image = flags.Image })
	set("source", func() { cfg.Source = flags.Source })
	set("exclude", func() { cfg.Exclude = flags.Exclude })
	set("workdir", func() { cfg.Workdir = flags.Workdir })
	set("command", func() { cfg.Command = flags.Command })
	set("env", func() { cfg.Env = flags.Env })
	set("cache", func() { cfg.Cache = flags.Cache })
	set("output", func() { cfg.Output = flags.Output })
	set("prefix", func() { cfg.Prefix = flags.Prefix })
	set("oci-ref", func() { cfg.OCIRef = flags.OCIRef })
	set("concurrency", func() { cfg.Concurrency = flags.Concurrency })
	set("fail-fast", func() { cfg.FailFast = flags.FailFast })
	set("connect-retries", func() { cfg.ConnectRetries = flags.ConnectRetries })
}

func runDagger(ctx context.Context, logger *log.Entry, cfg *config.Config) error {
	engine, err := daggerengine.Connect(ctx, logger, cfg.ConnectRetries)
	if err != nil {
		return err
	}
	defer engine.Close()

	env := engine.Environment(daggerengine.EnvironmentOpts{
		Image:      cfg.Image,
		GoVersions: cfg.GoVersions,
		Source:     cfg.Source,
		Exclude:    cfg.Exclude,
		Workdir:    cfg.Workdir,
		Cache:      cfg.Cache,
	})
	return buildAndExport[*daggerengine.Environment, *dagger.Directory](ctx, logger, cfg, env,
		daggerengine.NewExecutor(logger), &daggerengine.Sink{Root: cfg.Output})
}

func runLocal(ctx context.Context, logger *log.Entry, cfg *config.Config) error {
	env, err := local.NewEnvironment(cfg.Source, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	return buildAndExport[*local.Environment, local.Dir](ctx, logger, cfg, env,
		local.NewExecutor(logger), &local.Sink{Root: cfg.Output})
}

// buildAndExport runs the matrix, exports every cell that succeeded, optionally bundles them,
// and only then reports the cells that failed.
func buildAndExport[E orchestrator.Environment, D any](ctx context.Context, logger *log.Entry, cfg *config.Config, env E, executor build.Executor[E, D], sink orchestrator.Sink[D]) error {
	builder := &build.CellBuilder[E, D]{
		Executor: executor,
		Command:  cfg.Command,
		Env:      cfg.Env,
		Path:     build.PathFunc(cfg.Prefix),
	}
	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithConcurrency(cfg.Concurrency),
	}
	if cfg.FailFast {
		opts = append(opts, orchestrator.WithFailFast())
	}

	m := cfg.Matrix()
	result, runErr := orchestrator.Run(ctx, m, env, builder.Build, builder.Path, opts...)
	if result == nil {
		return fmt.Errorf("build failed: %w", runErr)
	}

	if result.Tree.Len() > 0 {
		// a cancelled run still exports what finished
		exportCtx := context.WithoutCancel(ctx)
		if _, err := orchestrator.Export(exportCtx, result.Tree, sink, opts...); err != nil {
			return err
		}
		if cfg.OCIRef != "" {
			if err := bundleAll(logger, cfg, result.Tree.Entries()); err != nil {
				return err
			}
		}
	}

	for _, f := range result.Failures {
		logger.WithField("cell", f.Cell.Key()).Errorf("%v", f.Err)
	}
	if runErr != nil {
		return fmt.Errorf("build interrupted: %w", runErr)
	}
	if n := len(result.Failures); n > 0 {
		return fmt.Errorf("%d of %d builds failed", n, m.Size())
	}
	logger.Infof("All %d builds exported to %s", result.Tree.Len(), cfg.Output)
	return nil
}

// bundleAll packs every exported directory into <output>/<path>.tar.
func bundleAll[D any](logger *log.Entry, cfg *config.Config, entries []orchestrator.Entry[D]) error {
	for _, e := range entries {
		goos, _ := e.Cell.Value(matrix.AxisOS)
		goarch, _ := e.Cell.Value(matrix.AxisArch)
		platform, err := image.Platform(goos, goarch)
		if err != nil {
			return err
		}
		dir := filepath.Join(cfg.Output, filepath.FromSlash(e.Path))
		out := dir + ".tar"
		logger.Debugf("Bundling %s as %s", dir, out)
		if err := image.Bundle(cfg.OCIRef, dir, out, platform); err != nil {
			return fmt.Errorf("failed to bundle %s: %w", e.Path, err)
		}
	}
	logger.Infof("Bundled %d images as %s", len(entries), cfg.OCIRef)
	return nil
}

// Execute primary function for cobra
func Execute() {
	rootCmd, err := rootCmd()
	if err != nil {
		log.Fatal(err)
	}
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
