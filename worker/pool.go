package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
)

// QueueManager controls per-queue and per-tenant rate limiting and
// concurrency. The pool calls Acquire before executing an eligible job
// and Release after the attempt settles.
type QueueManager interface {
	// Acquire checks rate limits and concurrency for the queue/tenant
	// combination. Returns true if the job is allowed to proceed.
	Acquire(queue, tenant string) bool
	// Release decrements the active count for the queue/tenant pair.
	Release(queue, tenant string)
}

// Pool manages a set of concurrent goroutines that poll the store for
// eligible jobs and execute them through the Executor.
//
// Pool implements notify.Scheduler: a Schedule call wakes the pollers
// immediately instead of waiting out the poll interval.
type Pool struct {
	store        job.Store
	executor     *Executor
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	queueManager QueueManager

	stopCh  chan struct{}
	wakeCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent poller goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool will poll.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how often pollers look for eligible jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithQueueManager sets the queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithHeartbeatInterval sets how often the pool refreshes the liveness
// timestamp of jobs it is running. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets how long a running job may go without a
// heartbeat before the reaper returns it to the queue. Zero disables
// the reaper.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:             store,
		executor:          executor,
		concurrency:       10,
		queues:            []string{"default"},
		pollInterval:      time.Second,
		heartbeatInterval: 10 * time.Second,
		staleJobThreshold: 30 * time.Second,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		stopCh:            make(chan struct{}),
		wakeCh:            make(chan struct{}, 1),
		activeJobs:        make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Schedule implements notify.Scheduler. The batch contents are ignored;
// pollers claim from the store, so a nudge is enough.
func (p *Pool) Schedule(_ context.Context, _ ...*job.JobSpec) error {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the poller goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.pollLoop()
	}
	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	return nil
}

// Stop signals all pollers to stop and waits for them to finish. If the
// context has a deadline, active jobs are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}
	return nil
}

// pollLoop is run by each poller goroutine.
func (p *Pool) pollLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		eligible, err := p.store.ListEligible(context.Background(), p.queues, time.Now().UTC(), 1)
		if err != nil {
			p.logger.Error("poll error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(eligible) == 0 {
			p.sleep()
			continue
		}

		j := eligible[0]

		if p.queueManager != nil && !p.queueManager.Acquire(j.Queue, j.ScopeTenant) {
			// Rate limited. The job is still enqueued; back off briefly.
			p.sleep()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), cancel)

		// The claim inside Execute rejects jobs another poller got to
		// first, so racing on the same eligible job is harmless.
		if _, execErr := p.executor.Execute(ctx, j.ID); execErr != nil {
			p.logger.Debug("job execution error",
				slog.String("job_id", j.ID.String()),
				slog.String("worker", j.Worker),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel()

		if p.queueManager != nil {
			p.queueManager.Release(j.Queue, j.ScopeTenant)
		}
	}
}

// heartbeatLoop periodically refreshes the liveness timestamp of every
// job this pool is currently running.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	now := time.Now().UTC()
	for _, raw := range jobIDs {
		jobID, parseErr := id.ParseJobID(raw)
		if parseErr != nil {
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), jobID, now); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", raw),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically returns running jobs with expired heartbeats
// to the queue, so work claimed by a crashed process is not stranded.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleJobs()
		}
	}
}

func (p *Pool) reapStaleJobs() {
	stale, err := p.store.ReapStaleJobs(context.Background(), p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		err := p.store.Atomically(context.Background(), func(tx job.Ops) error {
			current, err := tx.GetJob(context.Background(), j.ID)
			if err != nil {
				return err
			}
			if current.State != job.StateRunning {
				return nil
			}
			current.State = job.StateEnqueued
			current.RunAt = time.Now().UTC()
			current.StartedAt = nil
			current.HeartbeatAt = nil
			current.NotifiedAt = nil
			return tx.UpdateJob(context.Background(), current)
		})
		if err != nil {
			p.logger.Error("reap: failed to requeue stale job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("requeued stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("worker", j.Worker),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.wakeCh:
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

// Interrupt cancels the context of the given job if one of this pool's
// goroutines is currently running it. Returns true if an interruption
// was delivered.
func (p *Pool) Interrupt(jobID id.JobID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	cancel, ok := p.activeJobs[jobID.String()]
	if ok {
		cancel()
	}
	return ok
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
