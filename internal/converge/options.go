package converge

import (
	"io"
	"log/slog"
	"math/rand"
)

type settings struct {
	logger       *slog.Logger
	sleep        Sleeper
	seed         func() int64
	onAttempt    func(resource string, attempt OperationAttempt)
	onTransition func(resource string, from, to State)
}

// Option customises a RetryScheduler, ConvergencePoller or Orchestrator.
type Option func(*settings)

// WithLogger sets the logger used for retry and transition messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSleeper replaces the wall-clock sleep used at every suspension point.
func WithSleeper(sleep Sleeper) Option {
	return func(s *settings) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithSeed fixes the seed of the backoff random source.
func WithSeed(seed int64) Option {
	return func(s *settings) {
		s.seed = func() int64 { return seed }
	}
}

// WithAttemptObserver registers a callback invoked after every submission and poll.
func WithAttemptObserver(fn func(resource string, attempt OperationAttempt)) Option {
	return func(s *settings) {
		s.onAttempt = fn
	}
}

// WithTransitionObserver registers a callback invoked on every state change.
func WithTransitionObserver(fn func(resource string, from, to State)) Option {
	return func(s *settings) {
		s.onTransition = fn
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:  sleepContext,
		seed:   rand.Int63,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) attempt(resource string, a OperationAttempt) {
	if s.onAttempt != nil {
		s.onAttempt(resource, a)
	}
}
