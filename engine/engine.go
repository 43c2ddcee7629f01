package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/ext"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/merger"
	"github.com/latchq/latch/middleware"
	"github.com/latchq/latch/notify"
	"github.com/latchq/latch/observability"
	"github.com/latchq/latch/queue"
	"github.com/latchq/latch/scope"
	"github.com/latchq/latch/store"
	"github.com/latchq/latch/worker"
)

// Engine ties the subsystems together: it owns the store, the worker
// and merger registries, the executor, the polling pool, the notifier,
// the DLQ, and the extension registry. Construct one with New, register
// workers, then Start it.
type Engine struct {
	store        store.Store
	config       latch.Config
	logger       *slog.Logger
	workers      *job.Registry
	mergers      *merger.Registry
	extensions   *ext.Registry
	dlqService   *dlq.Service
	notifier     *notify.Notifier
	executor     *worker.Executor
	pool         *worker.Pool
	queueManager *queue.Manager

	mu      sync.Mutex
	started bool
}

// New builds an Engine on top of the given store. The store must
// implement both the job and DLQ stores; every bundled backend does.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, latch.ErrNoStore
	}

	settings := defaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}

	e := &Engine{
		store:   s,
		config:  settings.config,
		logger:  settings.logger,
		workers: job.NewRegistry(),
		mergers: merger.NewRegistry(),
	}

	e.extensions = ext.NewRegistry(e.logger)
	if !settings.disableDefaultMetrics {
		e.extensions.Register(observability.NewMetricsExtension())
	}
	for _, x := range settings.extensions {
		e.extensions.Register(x)
	}

	var notifyOpts []notify.Option
	if e.config.SweepLimit > 0 {
		notifyOpts = append(notifyOpts, notify.WithSweepLimit(e.config.SweepLimit))
	}
	e.notifier = notify.New(s, e.logger, notifyOpts...)

	e.dlqService = dlq.NewService(s, s)
	e.queueManager = queue.NewManager(settings.queueConfigs...)

	mws := append(defaultMiddleware(e.logger, settings), settings.middlewares...)
	e.executor = worker.NewExecutor(
		e.workers,
		e.mergers,
		e.extensions,
		s,
		e.dlqService,
		e.notifier,
		settings.backoff,
		e.logger,
		mws...,
	)
	for _, l := range settings.listeners {
		e.executor.AddListener(l)
	}

	e.pool = worker.NewPool(s, e.executor, e.logger,
		worker.WithPoolConcurrency(e.config.Concurrency),
		worker.WithPoolQueues(e.config.Queues),
		worker.WithPollInterval(e.config.PollInterval),
		worker.WithHeartbeatInterval(e.config.HeartbeatInterval),
		worker.WithStaleJobThreshold(e.config.StaleJobThreshold),
		worker.WithQueueManager(e.queueManager),
	)

	e.notifier.Register(e.pool)
	for _, sch := range settings.schedulers {
		e.notifier.Register(sch)
	}

	return e, nil
}

// defaultMiddleware is the execution stack every job runs through, from
// outermost to innermost: panic recovery, tracing, metrics, logging,
// per-job timeout.
func defaultMiddleware(logger *slog.Logger, s settings) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.Recover()}
	if !s.disableDefaultTracing {
		mws = append(mws, middleware.Tracing())
	}
	if !s.disableDefaultMetrics {
		mws = append(mws, middleware.Metrics())
	}
	mws = append(mws, middleware.Logging(logger), middleware.Timeout())
	return mws
}

// RegisterWorker makes a worker available under the given type name.
// The same instance serves every attempt; workers needing per-run state
// should register a factory on the registry directly.
func (e *Engine) RegisterWorker(name string, w job.Worker) {
	e.workers.Register(name, func() job.Worker { return w })
}

// RegisterWorkerFunc registers a plain function as a worker.
func (e *Engine) RegisterWorkerFunc(name string, fn job.Func) {
	e.workers.RegisterFunc(name, fn)
}

// RegisterMerger makes an input merger available under the given name.
func (e *Engine) RegisterMerger(name string, m merger.Merger) {
	e.mergers.Register(name, func() merger.Merger { return m })
}

// Submit persists a new job and its dependency edges in one transaction.
// A job with prerequisites that have not all succeeded yet is created
// blocked; otherwise it is enqueued immediately. Periodic jobs cannot
// appear on either side of a dependency edge.
func (e *Engine) Submit(ctx context.Context, workerName string, opts ...job.Option) (*job.JobSpec, error) {
	o := job.ApplyOptions(opts...)

	if o.Interval > 0 && len(o.Prerequisites) > 0 {
		return nil, latch.ErrPeriodicDependency
	}

	j := job.NewFromOptions(workerName, o)
	j.ScopeTenant = scope.Capture(ctx)

	err := e.store.Atomically(ctx, func(tx job.Ops) error {
		blocked := false
		for _, prereqID := range o.Prerequisites {
			prereq, err := tx.GetJob(ctx, prereqID)
			if err != nil {
				return fmt.Errorf("prerequisite %s: %w", prereqID, err)
			}
			if prereq.IsPeriodic() {
				return latch.ErrPeriodicDependency
			}
			if prereq.State != job.StateSucceeded {
				blocked = true
			}
		}

		if blocked {
			j.State = job.StateBlocked
		} else if len(o.Prerequisites) > 0 && j.State == job.StateEnqueued {
			// Every prerequisite already succeeded, so the dependent's
			// first period starts at the moment it becomes runnable.
			j.PeriodStart = time.Now().UTC()
		}

		if err := tx.CreateJob(ctx, j); err != nil {
			return err
		}
		for _, prereqID := range o.Prerequisites {
			dep := job.Dependency{DependentID: j.ID, PrerequisiteID: prereqID}
			if err := tx.AddDependency(ctx, dep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.extensions.EmitJobEnqueued(ctx, j)
	e.notifier.Sweep(ctx)
	return j, nil
}

// Cancel marks the job and every transitive dependent cancelled,
// skipping jobs that already finished. A running job also has its
// execution context cancelled.
func (e *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	var cancelled []*job.JobSpec

	err := e.store.Atomically(ctx, func(tx job.Ops) error {
		visited := map[id.JobID]bool{}
		pending := []id.JobID{jobID}
		for len(pending) > 0 {
			cur := pending[0]
			pending = pending[1:]
			if visited[cur] {
				continue
			}
			visited[cur] = true

			j, err := tx.GetJob(ctx, cur)
			if err != nil {
				if cur == jobID {
					return err
				}
				continue
			}

			deps, err := tx.Dependents(ctx, cur)
			if err != nil {
				return err
			}
			pending = append(pending, deps...)

			if j.State == job.StateSucceeded || j.State == job.StateFailed || j.State == job.StateCancelled {
				continue
			}
			j.State = job.StateCancelled
			now := time.Now().UTC()
			j.CompletedAt = &now
			if err := tx.UpdateJob(ctx, j); err != nil {
				return err
			}
			cancelled = append(cancelled, j)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, j := range cancelled {
		e.pool.Interrupt(j.ID)
		e.extensions.EmitJobCancelled(ctx, j)
	}
	return nil
}

// Execute runs a single job synchronously, bypassing the polling pool.
// The usual claim rules apply: only an enqueued job runs.
func (e *Engine) Execute(ctx context.Context, jobID id.JobID) (worker.Outcome, error) {
	return e.executor.Execute(ctx, jobID)
}

// Replay resubmits a dead-letter entry as a fresh job and marks the
// entry replayed.
func (e *Engine) Replay(ctx context.Context, entryID id.DLQID) (*job.JobSpec, error) {
	j, err := e.dlqService.Replay(ctx, entryID)
	if err != nil {
		return nil, err
	}
	e.extensions.EmitJobEnqueued(ctx, j)
	e.notifier.Sweep(ctx)
	return j, nil
}

// Start runs store migrations, sweeps jobs left unnotified by a prior
// run, and launches the polling pool. Safe to call once.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %v", latch.ErrMigrationFailed, err)
	}

	e.notifier.Sweep(ctx)

	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	e.started = true
	e.logger.Info("engine started",
		slog.Int("concurrency", e.config.Concurrency),
		slog.Any("queues", e.config.Queues),
	)
	return nil
}

// Stop drains the pool, waiting up to the configured shutdown timeout
// for in-flight jobs, then notifies extensions.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok && e.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ShutdownTimeout)
		defer cancel()
	}

	err := e.pool.Stop(ctx)
	e.extensions.EmitShutdown(ctx)
	e.started = false
	e.logger.Info("engine stopped")
	return err
}

// Store returns the backing store.
func (e *Engine) Store() store.Store { return e.store }

// Workers returns the worker registry.
func (e *Engine) Workers() *job.Registry { return e.workers }

// Mergers returns the input merger registry.
func (e *Engine) Mergers() *merger.Registry { return e.mergers }

// Extensions returns the lifecycle extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// DLQ returns the dead-letter service.
func (e *Engine) DLQ() *dlq.Service { return e.dlqService }

// Notifier returns the scheduler notifier.
func (e *Engine) Notifier() *notify.Notifier { return e.notifier }

// Queues returns the queue concurrency and rate-limit manager.
func (e *Engine) Queues() *queue.Manager { return e.queueManager }
