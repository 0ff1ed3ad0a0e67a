// Package daggerengine builds cells in containers on a Dagger engine.
//
// The connection is opened once by Connect and passed explicitly to everything that needs it;
// the caller must Close it on every exit path.
package daggerengine

import (
	"context"
	"fmt"
	"io"
	"time"

	"dagger.io/dagger"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultImage   = "golang:latest"
	DefaultWorkdir = "/src"

	goModCachePath   = "/go/pkg/mod"
	goBuildCachePath = "/root/.cache/go-build"
)

// Engine is an open connection to a Dagger engine.
type Engine struct {
	client    *dagger.Client
	logger    *log.Entry
	logOutput *io.PipeWriter
}

// Connect opens a connection, retrying up to retries times with exponential backoff.
func Connect(ctx context.Context, logger *log.Entry, retries int) (*Engine, error) {
	logger = logger.WithField("engine", "dagger")
	logOutput := logger.WriterLevel(log.DebugLevel)

	var client *dagger.Client
	attempt := 0
	connect := func() error {
		attempt++
		var err error
		client, err = dagger.Connect(ctx, dagger.WithLogOutput(logOutput))
		if err != nil {
			logger.Debugf("Connection attempt %d failed: %v", attempt, err)
		}
		return err
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	var b backoff.BackOff = exp
	if retries > 0 {
		b = backoff.WithMaxRetries(b, uint64(retries))
	} else {
		b = &backoff.StopBackOff{}
	}
	if err := backoff.Retry(connect, backoff.WithContext(b, ctx)); err != nil {
		logOutput.Close()
		return nil, fmt.Errorf("failed to connect to dagger engine after %d attempts: %w", attempt, err)
	}
	logger.Debugf("Connected to dagger engine")
	return &Engine{client: client, logger: logger, logOutput: logOutput}, nil
}

func (e *Engine) Close() error {
	err := e.client.Close()
	e.logOutput.Close()
	return err
}

// EnvironmentOpts describes the base every cell starts from.
type EnvironmentOpts struct {
	// Image is used for cells without a Go version coordinate.
	Image string
	// GoVersions, when set, are the values of the Go version axis; each gets a golang:<version> base.
	GoVersions []string
	// Source is the host directory mounted at Workdir.
	Source  string
	Exclude []string
	Workdir string
	// Cache mounts shared Go module and build caches.
	Cache bool
}

// Environment creates the shared base containers. Nothing is evaluated until Check or a build.
func (e *Engine) Environment(opts EnvironmentOpts) *Environment {
	if opts.Image == "" {
		opts.Image = DefaultImage
	}
	if opts.Workdir == "" {
		opts.Workdir = DefaultWorkdir
	}
	if opts.Source == "" {
		opts.Source = "."
	}
	src := e.client.Host().Directory(opts.Source, dagger.HostDirectoryOpts{Exclude: opts.Exclude})

	env := &Environment{
		image: opts.Image,
		bases: make(map[string]*dagger.Container),
	}
	images := []string{opts.Image}
	for _, v := range opts.GoVersions {
		images = append(images, GoImage(v))
	}
	for _, image := range images {
		if _, ok := env.bases[image]; ok {
			continue
		}
		ctr := e.client.Container().
			From(image).
			WithMountedDirectory(opts.Workdir, src).
			WithWorkdir(opts.Workdir)
		if opts.Cache {
			ctr = ctr.
				WithMountedCache(goModCachePath, e.client.CacheVolume("multibuild-go-mod")).
				WithMountedCache(goBuildCachePath, e.client.CacheVolume("multibuild-go-build"))
		}
		env.bases[image] = ctr
	}
	return env
}

// GoImage is the base image for a Go toolchain version.
func GoImage(version string) string {
	return "golang:" + version
}
