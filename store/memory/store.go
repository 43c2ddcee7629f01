// Package memory provides an in-memory store implementation, used for
// tests and local development. All data is lost on process exit.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/latchq/latch"
	"github.com/latchq/latch/dlq"
	"github.com/latchq/latch/id"
	"github.com/latchq/latch/job"
	"github.com/latchq/latch/payload"
)

// Store is an in-memory implementation of the aggregate store.
// It is safe for concurrent use. Atomically serializes on the store
// mutex and restores a snapshot when the transaction function fails, so
// readers never observe partial application.
type Store struct {
	mu     sync.RWMutex
	closed bool

	jobs     map[id.JobID]*job.JobSpec
	jobOrder []id.JobID
	deps     []job.Dependency

	dlqEntries map[id.DLQID]*dlq.Entry
	dlqOrder   []id.DLQID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:       make(map[id.JobID]*job.JobSpec),
		dlqEntries: make(map[id.DLQID]*dlq.Entry),
	}
}

// Migrate is a no-op for the memory backend.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return latch.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Data is retained until GC.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Atomically runs fn against a transaction view of the store. The store
// mutex is held for the duration, and a snapshot taken on entry is
// restored if fn returns an error.
func (s *Store) Atomically(_ context.Context, fn func(tx job.Ops) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return latch.ErrStoreClosed
	}

	snap := s.snapshot()
	if err := fn(&txOps{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	jobs     map[id.JobID]*job.JobSpec
	jobOrder []id.JobID
	deps     []job.Dependency
}

func (s *Store) snapshot() snapshotState {
	jobs := make(map[id.JobID]*job.JobSpec, len(s.jobs))
	for k, v := range s.jobs {
		jobs[k] = cloneJob(v)
	}
	return snapshotState{
		jobs:     jobs,
		jobOrder: append([]id.JobID(nil), s.jobOrder...),
		deps:     append([]job.Dependency(nil), s.deps...),
	}
}

func (s *Store) restore(snap snapshotState) {
	s.jobs = snap.jobs
	s.jobOrder = snap.jobOrder
	s.deps = snap.deps
}

// txOps serves job.Ops inside Atomically, where the store mutex is
// already held.
type txOps struct {
	s *Store
}

func (t *txOps) CreateJob(_ context.Context, j *job.JobSpec) error {
	return t.s.createJob(j)
}

func (t *txOps) GetJob(_ context.Context, jobID id.JobID) (*job.JobSpec, error) {
	return t.s.getJob(jobID)
}

func (t *txOps) GetState(_ context.Context, jobID id.JobID) (job.State, error) {
	return t.s.getState(jobID)
}

func (t *txOps) UpdateJob(_ context.Context, j *job.JobSpec) error {
	return t.s.updateJob(j)
}

func (t *txOps) DeleteJob(_ context.Context, jobID id.JobID) error {
	return t.s.deleteJob(jobID)
}

func (t *txOps) AddDependency(_ context.Context, d job.Dependency) error {
	return t.s.addDependency(d)
}

func (t *txOps) Dependents(_ context.Context, prerequisiteID id.JobID) ([]id.JobID, error) {
	return t.s.dependents(prerequisiteID)
}

func (t *txOps) Prerequisites(_ context.Context, dependentID id.JobID) ([]id.JobID, error) {
	return t.s.prerequisites(dependentID)
}

func (t *txOps) AllPrerequisitesSucceeded(_ context.Context, dependentID id.JobID) (bool, error) {
	return t.s.allPrerequisitesSucceeded(dependentID)
}

func (t *txOps) PrerequisiteOutputs(_ context.Context, dependentID id.JobID) ([]payload.Payload, error) {
	return t.s.prerequisiteOutputs(dependentID)
}

func (t *txOps) ListEligible(_ context.Context, queues []string, now time.Time, limit int) ([]*job.JobSpec, error) {
	return t.s.listEligible(queues, now, limit)
}

func (t *txOps) ListUnnotified(_ context.Context, limit int) ([]*job.JobSpec, error) {
	return t.s.listUnnotified(limit)
}

func (t *txOps) MarkNotified(_ context.Context, ids []id.JobID, at time.Time) error {
	return t.s.markNotified(ids, at)
}

func (t *txOps) HeartbeatJob(_ context.Context, jobID id.JobID, at time.Time) error {
	return t.s.heartbeatJob(jobID, at)
}

func (t *txOps) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.JobSpec, error) {
	return t.s.reapStaleJobs(threshold)
}

func (t *txOps) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.JobSpec, error) {
	return t.s.listJobsByState(state, opts)
}

func (t *txOps) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	return t.s.countJobs(opts)
}
