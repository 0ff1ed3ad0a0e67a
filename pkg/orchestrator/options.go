package orchestrator

import (
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type settings struct {
	logger         *log.Entry
	tracerProvider trace.TracerProvider
	concurrency    int
	failFast       bool
}

type Option func(*settings)

// WithConcurrency bounds the number of cells built at the same time. Zero or less means unbounded.
func WithConcurrency(n int) Option {
	return func(s *settings) {
		s.concurrency = n
	}
}

// WithFailFast cancels the cells that have not finished once one cell fails. Those cells are
// still reported in the failures of the result.
func WithFailFast() Option {
	return func(s *settings) {
		s.failFast = true
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithTracerProvider sets where the per-cell spans go. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) {
		s.tracerProvider = tp
	}
}

func newSettings(opts []Option) *settings {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewEntry(log.StandardLogger())
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	s.logger = s.logger.WithField("component", "orchestrator")
	return s
}
