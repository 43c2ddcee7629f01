package engine

import (
	"log/slog"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/backoff"
	"github.com/latchq/latch/ext"
	"github.com/latchq/latch/middleware"
	"github.com/latchq/latch/notify"
	"github.com/latchq/latch/queue"
	"github.com/latchq/latch/worker"
)

type settings struct {
	config                latch.Config
	logger                *slog.Logger
	backoff               backoff.Strategy
	middlewares           []middleware.Middleware
	extensions            []ext.Extension
	schedulers            []notify.Scheduler
	listeners             []worker.ExecutionListener
	queueConfigs          []queue.Config
	disableDefaultMetrics bool
	disableDefaultTracing bool
}

func defaultSettings() settings {
	return settings{
		config:  latch.DefaultConfig(),
		logger:  slog.Default(),
		backoff: backoff.DefaultStrategy(),
	}
}

// Option customizes an Engine at construction time.
type Option func(*settings)

// WithConfig replaces the whole configuration.
func WithConfig(cfg latch.Config) Option {
	return func(s *settings) { s.config = cfg }
}

// WithConcurrency sets how many poller goroutines run jobs.
func WithConcurrency(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.config.Concurrency = n
		}
	}
}

// WithQueues sets which queues the pool polls.
func WithQueues(queues ...string) Option {
	return func(s *settings) {
		if len(queues) > 0 {
			s.config.Queues = queues
		}
	}
}

// WithPollInterval sets how long idle pollers sleep between polls.
func WithPollInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.config.PollInterval = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight jobs.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *settings) { s.config.ShutdownTimeout = d }
}

// WithSweepLimit caps the batch size of a notifier sweep.
func WithSweepLimit(n int) Option {
	return func(s *settings) { s.config.SweepLimit = n }
}

// WithLogger sets the structured logger used across all subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *settings) {
		if b != nil {
			s.backoff = b
		}
	}
}

// WithMiddleware appends execution middleware inside the default stack.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *settings) { s.middlewares = append(s.middlewares, mws...) }
}

// WithExtension registers a lifecycle extension.
func WithExtension(exts ...ext.Extension) Option {
	return func(s *settings) { s.extensions = append(s.extensions, exts...) }
}

// WithScheduler registers an additional scheduler with the notifier,
// alongside the engine's own pool.
func WithScheduler(schedulers ...notify.Scheduler) Option {
	return func(s *settings) { s.schedulers = append(s.schedulers, schedulers...) }
}

// WithExecutionListener registers a listener fired after every settled
// execution attempt.
func WithExecutionListener(listeners ...worker.ExecutionListener) Option {
	return func(s *settings) { s.listeners = append(s.listeners, listeners...) }
}

// WithQueueConfig sets per-queue concurrency and rate limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(s *settings) { s.queueConfigs = append(s.queueConfigs, configs...) }
}

// WithoutMetrics disables the built-in metrics extension and middleware.
func WithoutMetrics() Option {
	return func(s *settings) { s.disableDefaultMetrics = true }
}

// WithoutTracing disables the built-in tracing middleware.
func WithoutTracing() Option {
	return func(s *settings) { s.disableDefaultTracing = true }
}
